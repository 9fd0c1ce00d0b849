// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nftables

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/google/uuid"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/backend"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/errors"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/policy"
)

// Name is the adapter name registered with backend.Registry.
const Name = "nftables"

// KernelSubsystem is the coexistence key this adapter registers under (§4.2).
const KernelSubsystem = "netfilter"

// runner executes the nft(8) binary. It is an interface so tests can stub it
// without a real netfilter-capable kernel.
type runner interface {
	Run(ctx context.Context, stdin string, args ...string) (stdout string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "nft", args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("nft %s: %w: %s", strings.Join(args, " "), err, out)
	}
	return string(out), nil
}

// Options configures the adapter (§6 backend.options.*).
type Options struct {
	TableName  string
	BackupPath string
}

// DefaultOptions returns the adapter's default table name and backup
// location.
func DefaultOptions() Options {
	return Options{
		TableName:  "afo",
		BackupPath: "/var/lib/orchestrator/backups/nftables.last.nft",
	}
}

// Adapter is the reference backend.Adapter for Linux nftables.
type Adapter struct {
	opts Options
	run  runner
	hc   healthChecker
}

// New constructs an nftables Adapter with the given options.
func New(opts Options) *Adapter {
	if opts.TableName == "" {
		opts.TableName = "afo"
	}
	return &Adapter{opts: opts, run: execRunner{}, hc: newNetlinkHealthChecker()}
}

// Factory returns a backend.Registry factory for this adapter, to be passed
// to Registry.Register(Name, KernelSubsystem, ...).
func Factory(opts Options) func() (backend.Adapter, error) {
	return func() (backend.Adapter, error) {
		return New(opts), nil
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		SupportsDeny:          true,
		SupportsStateful:      true,
		SupportsRateLimit:     true,
		SupportsIPv6:          true,
		SupportsPriority:      true,
		EvaluationOrder:       backend.EvaluationFirstMatch,
		SupportsAtomicReplace: true,
		SupportsDeltaOps:      true,
	}
}

func (a *Adapter) Render(rule policy.Rule) (backend.RenderedRule, error) {
	return Render(rule)
}

// buildScript assembles a complete nft script that atomically replaces the
// managed table with the given rendered rules, grouped by chain. This
// mirrors the teacher's ScriptBuilder ordering requirement: tables and
// chains must be emitted before the rules that reference them.
func (a *Adapter) buildScript(rules []backend.RenderedRule) string {
	var b strings.Builder
	table := a.opts.TableName

	fmt.Fprintf(&b, "flush ruleset\n")
	fmt.Fprintf(&b, "add table inet %s\n", quote(table))

	chains := []struct{ name, hook, policy string }{
		{"input", "input", "accept"},
		{"output", "output", "accept"},
		{"forward", "forward", "accept"},
	}
	for _, c := range chains {
		fmt.Fprintf(&b, "add chain inet %s %s { type filter hook %s priority 0; policy %s; }\n",
			quote(table), c.name, c.hook, c.policy)
	}

	byChain := make(map[string][]string)
	var order []string
	for _, rr := range rules {
		chain := directionToChain(rr.SourceRule.Direction)
		if _, ok := byChain[chain]; !ok {
			order = append(order, chain)
		}
		byChain[chain] = append(byChain[chain], rr.Text)
	}
	for _, chain := range order {
		for _, text := range byChain[chain] {
			fmt.Fprintf(&b, "add rule inet %s %s %s\n", quote(table), chain, text)
		}
	}
	return b.String()
}

// Validate dry-runs a complete ruleset image via `nft -c -f -` (§4.2
// validate()), never applying it.
func (a *Adapter) Validate(ctx context.Context, image backend.RulesetImage) (backend.Verdict, error) {
	script := a.buildScript(image.Rules)
	out, err := a.run.Run(ctx, script, "-c", "-f", "-")
	if err != nil {
		return backend.Verdict{Valid: false, Errors: []string{out}}, nil
	}
	return backend.Verdict{Valid: true}, nil
}

// Snapshot captures the current ruleset via `nft list ruleset` (§4.4).
func (a *Adapter) Snapshot(ctx context.Context) (backend.BackupRef, error) {
	out, err := a.run.Run(ctx, "", "list", "ruleset")
	if err != nil {
		return backend.BackupRef{}, errors.Wrap(err, errors.KindSystem, "nft list ruleset failed")
	}
	id := uuid.NewString()
	path := a.opts.BackupPath
	if path == "" {
		path = DefaultOptions().BackupPath
	}
	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		return backend.BackupRef{}, errors.Wrap(err, errors.KindSystem, "failed to persist snapshot")
	}
	return backend.BackupRef{ID: id, Location: path}, nil
}

// ApplyAtomic replaces the entire managed table in a single `nft -f -`
// transaction (§4.4). The script always begins with `flush ruleset`, so
// apply is atomic: there is no intermediate window where the table is
// absent or half-loaded, because nft evaluates the whole script as one
// netlink batch.
func (a *Adapter) ApplyAtomic(ctx context.Context, image backend.RulesetImage) (backend.ApplyReceipt, error) {
	script := a.buildScript(image.Rules)
	if _, err := a.run.Run(ctx, script, "-f", "-"); err != nil {
		return backend.ApplyReceipt{}, errors.Wrap(err, errors.KindSyntax, "atomic apply failed")
	}
	genID, _ := a.hc.generationID(ctx)
	return backend.ApplyReceipt{Applied: true, RuleCount: len(image.Rules), GenerationID: genID}, nil
}

// ApplyDelta applies an additive/removal change set without a full-table
// flush, preferred for single-rule autonomous responses so established
// connection-tracking state elsewhere in the table survives (§4.2). Removal
// deletes by the rule's real kernel-assigned handle (populated on
// backend.RenderedRule by ListRules); an entry with no tracked handle fails
// the call with a syntax error rather than emitting a delete that could
// match the wrong rule.
func (a *Adapter) ApplyDelta(ctx context.Context, delta backend.Delta) (backend.ApplyReceipt, error) {
	var b strings.Builder
	table := a.opts.TableName
	removed := 0
	for _, rr := range delta.Remove {
		if rr.Handle == "" {
			return backend.ApplyReceipt{}, errors.Errorf(errors.KindSyntax, "cannot remove rule %s: no tracked nftables handle", rr.SourceRule.ID)
		}
		fmt.Fprintf(&b, "delete rule inet %s %s handle %s\n", quote(table), directionToChain(rr.SourceRule.Direction), rr.Handle)
		removed++
	}
	for _, rr := range delta.Add {
		fmt.Fprintf(&b, "add rule inet %s %s %s\n", quote(table), directionToChain(rr.SourceRule.Direction), rr.Text)
	}
	if b.Len() == 0 {
		return backend.ApplyReceipt{Applied: true}, nil
	}
	if _, err := a.run.Run(ctx, b.String(), "-f", "-"); err != nil {
		return backend.ApplyReceipt{}, errors.Wrap(err, errors.KindSyntax, "delta apply failed")
	}
	genID, _ := a.hc.generationID(ctx)
	return backend.ApplyReceipt{Applied: true, RuleCount: len(delta.Add) + removed, GenerationID: genID}, nil
}

// Restore reloads a snapshot in one atomic transaction: flush and load are
// issued as a single `nft -f -` script, never as two separate commands,
// so a crash between them cannot leave the host with no ruleset at all.
func (a *Adapter) Restore(ctx context.Context, ref backend.BackupRef) (bool, error) {
	data, err := os.ReadFile(ref.Location)
	if err != nil {
		return false, errors.Wrap(err, errors.KindIntegrity, "backup unreadable")
	}
	script := "flush ruleset\n" + string(data)
	if _, err := a.run.Run(ctx, script, "-f", "-"); err != nil {
		return false, errors.Wrap(err, errors.KindCatastrophic, "restore failed")
	}
	return true, nil
}

// ListRules returns the live managed ruleset re-rendered through Render, so
// its Text matches what the adapter itself would produce for the imported
// policy.Rule values, each carrying the real kernel handle `nft -a` reported
// for it so a later ApplyDelta removal can target it precisely.
func (a *Adapter) ListRules(ctx context.Context) ([]backend.RenderedRule, error) {
	out, err := a.run.Run(ctx, "", "-a", "list", "table", "inet", a.opts.TableName)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindSystem, "list table failed")
	}
	imported, handles, _, err := importWithHandles(out)
	if err != nil {
		return nil, err
	}
	rendered := make([]backend.RenderedRule, 0, len(imported))
	for i, r := range imported {
		rr, err := Render(r)
		if err != nil {
			continue
		}
		rr.Handle = handles[i]
		rendered = append(rendered, rr)
	}
	return rendered, nil
}

// ImportRules best-effort lifts the live managed table back into
// policy.Rule form (§4.2 import_rules()). Features the adapter cannot
// faithfully round-trip are surfaced as warnings, never silently dropped.
func (a *Adapter) ImportRules(ctx context.Context) ([]policy.Rule, []string, error) {
	out, err := a.run.Run(ctx, "", "-a", "list", "table", "inet", a.opts.TableName)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.KindSystem, "list table failed")
	}
	return importFromListing(out)
}

func (a *Adapter) Health(ctx context.Context) (backend.Health, error) {
	return a.hc.check(ctx)
}
