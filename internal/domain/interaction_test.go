package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0   = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	home = Origin{IP: "10.0.0.1", Country: "US", Type: IPResidential, UserAgent: "Mozilla/5.0"}
)

func TestNewInteraction_TargetPresence(t *testing.T) {
	for _, typ := range InteractionTypes() {
		rule := interactionRules[typ]
		meta := sampleMetadata(typ)

		switch rule.target {
		case TargetRequired:
			_, err := NewInteraction("u1", typ, t0, "", home, meta)
			assertInvariant(t, err, InvTargetPresence)
			_, err = NewInteraction("u1", typ, t0, "u2", home, meta)
			assert.NoError(t, err, typ)
		case TargetNone:
			_, err := NewInteraction("u1", typ, t0, "u2", home, meta)
			assertInvariant(t, err, InvTargetPresence)
			_, err = NewInteraction("u1", typ, t0, "", home, meta)
			assert.NoError(t, err, typ)
		case TargetOptional:
			_, err := NewInteraction("u1", typ, t0, "", home, meta)
			assert.NoError(t, err, typ)
			_, err = NewInteraction("u1", typ, t0, "u2", home, meta)
			assert.NoError(t, err, typ)
		}
	}
}

func TestNewInteraction_Rejections(t *testing.T) {
	t.Run("self target", func(t *testing.T) {
		_, err := NewInteraction("u1", MessageUser, t0, "u1", home, nil)
		assertInvariant(t, err, InvTargetPresence)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := NewInteraction("u1", InteractionType("wave"), t0, "", home, nil)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("missing required metadata", func(t *testing.T) {
		_, err := NewInteraction("u1", JoinGroup, t0, "", home, nil)
		assertInvariant(t, err, InvMetadataKind)
	})

	t.Run("wrong metadata kind", func(t *testing.T) {
		_, err := NewInteraction("u1", JoinGroup, t0, "", home, JobInfo{JobID: "j1"})
		assertInvariant(t, err, InvMetadataKind)
	})

	t.Run("empty group id", func(t *testing.T) {
		_, err := NewInteraction("u1", PostInGroup, t0, "", home, GroupInfo{})
		assertInvariant(t, err, InvMetadataKind)
	})

	t.Run("unknown ip type", func(t *testing.T) {
		from := home
		from.Type = "satellite"
		_, err := NewInteraction("u1", Login, t0, "", from, nil)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestNewInteraction_Defaults(t *testing.T) {
	from := home
	from.Type = ""
	evt, err := NewInteraction("u1", Login, t0.In(time.FixedZone("X", 3600)), "", from, nil)
	require.NoError(t, err)
	assert.Equal(t, IPResidential, evt.IPType)
	assert.Equal(t, time.UTC, evt.Timestamp.Location())
	assert.Equal(t, from.IP, evt.Origin().IP)
}

func TestInteraction_JSONKeepsMetadata(t *testing.T) {
	evt, err := NewInteraction("u1", EndorseSkill, t0, "u2", home, SkillInfo{SkillID: "go"})
	require.NoError(t, err)
	evt = evt.WithID("e1")

	raw, err := json.Marshal(evt)
	require.NoError(t, err)

	var back Interaction
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, evt, back)
}

func TestInteraction_JSONRejectsBrokenRecord(t *testing.T) {
	raw := []byte(`{"id":"e1","userId":"u1","type":"message_user","timestamp":"2025-03-01T12:00:00Z","ipAddress":"1.1.1.1","ipCountry":"US","ipType":"residential"}`)
	var back Interaction
	err := json.Unmarshal(raw, &back)
	assertInvariant(t, err, InvTargetPresence)
}

func TestSessionRoles(t *testing.T) {
	assert.True(t, Login.IsLoginClass())
	assert.True(t, SessionLogin.IsLoginClass())
	assert.False(t, LoginFailure.IsLoginClass())
	assert.Equal(t, Sessionless, AccountCreation.Session())
	assert.Equal(t, Sessionless, PhishingLogin.Session())
	assert.Equal(t, NeedsSession, CloseAccount.Session())
	assert.Len(t, InteractionTypes(), 31)
}

func TestUserProfile_ClonedFromSelf(t *testing.T) {
	_, err := NewUser("u1", "US", t0, UserProfile{ClonedFromUserID: "u1"})
	assertInvariant(t, err, InvClonedFromSelf)

	source, err := NewUser("u2", "US", t0, UserProfile{DisplayName: "Ada", Headline: "CEO", HasPhoto: true})
	require.NoError(t, err)

	clone, err := UserProfile{}.CloneOf("u1", source)
	require.NoError(t, err)
	assert.Equal(t, "u2", clone.ClonedFromUserID)
	assert.Equal(t, "Ada", clone.DisplayName)

	_, err = UserProfile{}.CloneOf("u2", source)
	assertInvariant(t, err, InvClonedFromSelf)
}

func TestUserProfile_Completeness(t *testing.T) {
	assert.Equal(t, 0.0, UserProfile{}.Completeness())
	p := UserProfile{DisplayName: "a", Headline: "b", Summary: "c", Location: "d", HasPhoto: true}
	assert.Equal(t, 1.0, p.Completeness())
}

func TestInvariantNumbers(t *testing.T) {
	assert.Equal(t, 1, InvCreationFirst.Number())
	assert.Equal(t, 2, InvLoginBeforeAction.Number())
	assert.Equal(t, 3, InvCloseTerminal.Number())
	assert.Equal(t, 4, InvTargetPresence.Number())
	assert.Equal(t, 5, InvChronological.Number())
	assert.Equal(t, 0, InvGroupMembership.Number())

	err := error(&InvariantViolation{UserID: "u1", Invariant: InvCloseTerminal})
	assert.True(t, errors.Is(err, ErrInvariantViolation))
	assert.Contains(t, err.Error(), "invariant 3")
}

func assertInvariant(t *testing.T, err error, inv Invariant) {
	t.Helper()
	var ve *ValidationError
	if assert.ErrorAs(t, err, &ve) {
		assert.Equal(t, inv, ve.Invariant)
	}
}

func sampleMetadata(typ InteractionType) Metadata {
	switch typ {
	case EndorseSkill:
		return SkillInfo{SkillID: "go"}
	case CreateJobPosting, ViewJob, ApplyToJob:
		return JobInfo{JobID: "j1"}
	case JoinGroup, LeaveGroup, PostInGroup:
		return GroupInfo{GroupID: "g1"}
	case AdView, AdClick:
		return AdInfo{AdID: "a1"}
	}
	return nil
}
