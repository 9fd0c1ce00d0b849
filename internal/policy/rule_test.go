// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseRule() Rule {
	return Rule{
		ID:        "11111111-1111-1111-1111-111111111111",
		Family:    FamilyIPv4,
		Direction: DirectionInput,
		Action:    ActionDrop,
		Source:    "203.0.113.7/32",
		Protocol:  ProtocolTCP,
		DestinationPort: PortSpec{
			Single: 22,
		},
		Origin: OriginDaemonAuto,
	}
}

func TestValidate_AcceptRequiresUserOrigin(t *testing.T) {
	r := baseRule()
	r.Action = ActionAccept
	r.Origin = OriginDaemonAuto
	assert.Error(t, r.Validate())

	r.Origin = OriginUser
	assert.NoError(t, r.Validate())
}

func TestValidate_PortOutOfRange(t *testing.T) {
	r := baseRule()
	r.DestinationPort = PortSpec{Single: 70000}
	assert.Error(t, r.Validate())
}

func TestValidate_RangeAndListMutuallyExclusive(t *testing.T) {
	r := baseRule()
	r.DestinationPort = PortSpec{Range: &PortRange{Start: 10, End: 20}, List: []int{1, 2}}
	assert.Error(t, r.Validate())
}

func TestValidate_RateLimitWindow(t *testing.T) {
	r := baseRule()
	r.RateLimit = &RateLimit{Count: 10, Window: 0}
	assert.Error(t, r.Validate())

	r.RateLimit.Window = time.Minute
	assert.NoError(t, r.Validate())
}

func TestValidate_CommentRejectsDelimiterAndControlChars(t *testing.T) {
	r := baseRule()
	r.Comment = "blocked; because reasons"
	assert.Error(t, r.Validate())

	r.Comment = "blocked\x00reasons"
	assert.Error(t, r.Validate())

	r.Comment = "blocked because reasons"
	assert.NoError(t, r.Validate())
}

func TestValidate_FamilyAddressMismatch(t *testing.T) {
	r := baseRule()
	r.Family = FamilyIPv4
	r.Source = "2001:db8::1"
	assert.Error(t, r.Validate())
}

func TestCanonical_SortsPortListAndNormalizesCIDR(t *testing.T) {
	r := Rule{
		Source:          "203.0.113.0/24",
		Protocol:        "TCP",
		DestinationPort: PortSpec{List: []int{80, 22, 22, 443}},
	}
	c := r.Canonical()
	require.Equal(t, Protocol("tcp"), c.Protocol)
	assert.Equal(t, []int{22, 80, 443}, c.DestinationPort.List)
	assert.Equal(t, "203.0.113.0/24", c.Source)
}

func TestEqual_IgnoresIDCommentAndOrigin(t *testing.T) {
	a := baseRule()
	b := a
	b.ID = "22222222-2222-2222-2222-222222222222"
	b.Comment = "different comment"
	b.Origin = OriginUser
	assert.True(t, a.Equal(b))

	b.DestinationPort = PortSpec{Single: 23}
	assert.False(t, a.Equal(b))
}

func TestDedup_KeepsEarliestPriorityOccurrence(t *testing.T) {
	first := baseRule()
	first.ID = "first"
	first.Priority = 1

	dup := baseRule()
	dup.ID = "dup"
	dup.Priority = 2

	distinct := baseRule()
	distinct.ID = "distinct"
	distinct.Priority = 3
	distinct.DestinationPort = PortSpec{Single: 23}

	out := Dedup([]Rule{dup, distinct, first})
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].ID)
	assert.Equal(t, "distinct", out[1].ID)
}
