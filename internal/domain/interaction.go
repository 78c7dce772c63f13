package domain

import (
	"fmt"
	"sort"
	"time"
)

// InteractionType is the closed catalog of user actions.
// Adding a type means adding a constant and its row in interactionRules.
type InteractionType string

const (
	AccountCreation         InteractionType = "account_creation"
	Login                   InteractionType = "login"
	LoginFailure            InteractionType = "login_failure"
	SessionLogin            InteractionType = "session_login"
	PhishingLogin           InteractionType = "phishing_login"
	ChangePassword          InteractionType = "change_password"
	ChangeProfile           InteractionType = "change_profile"
	ChangeName              InteractionType = "change_name"
	ChangeLastName          InteractionType = "change_last_name"
	UpdateHeadline          InteractionType = "update_headline"
	UpdateSummary           InteractionType = "update_summary"
	SearchCandidates        InteractionType = "search_candidates"
	ViewUserPage            InteractionType = "view_user_page"
	MessageUser             InteractionType = "message_user"
	SendConnectionRequest   InteractionType = "send_connection_request"
	AcceptConnectionRequest InteractionType = "accept_connection_request"
	Like                    InteractionType = "like"
	React                   InteractionType = "react"
	EndorseSkill            InteractionType = "endorse_skill"
	GiveRecommendation      InteractionType = "give_recommendation"
	UploadAddressBook       InteractionType = "upload_address_book"
	DownloadAddressBook     InteractionType = "download_address_book"
	CloseAccount            InteractionType = "close_account"
	CreateJobPosting        InteractionType = "create_job_posting"
	ViewJob                 InteractionType = "view_job"
	ApplyToJob              InteractionType = "apply_to_job"
	JoinGroup               InteractionType = "join_group"
	LeaveGroup              InteractionType = "leave_group"
	PostInGroup             InteractionType = "post_in_group"
	AdView                  InteractionType = "ad_view"
	AdClick                 InteractionType = "ad_click"
)

// TargetRule says whether an interaction type carries a target user.
type TargetRule int

const (
	TargetNone TargetRule = iota
	TargetRequired
	TargetOptional
)

func (r TargetRule) String() string {
	switch r {
	case TargetRequired:
		return "required"
	case TargetOptional:
		return "optional"
	default:
		return "none"
	}
}

// SessionRole describes how a type relates to sessions.
type SessionRole int

const (
	// NeedsSession types must happen inside a session opened by a login-class event.
	NeedsSession SessionRole = iota
	// OpensSession types are the login-class events.
	OpensSession
	// Sessionless types neither need nor open a session.
	Sessionless
)

type interactionRule struct {
	target   TargetRule
	session  SessionRole
	metadata []MetadataKind
	required bool // metadata must be present
}

var interactionRules = map[InteractionType]interactionRule{
	AccountCreation:         {target: TargetNone, session: Sessionless},
	Login:                   {target: TargetNone, session: OpensSession, metadata: []MetadataKind{KindLogin}},
	LoginFailure:            {target: TargetNone, session: Sessionless, metadata: []MetadataKind{KindLogin}},
	SessionLogin:            {target: TargetNone, session: OpensSession, metadata: []MetadataKind{KindLogin}},
	PhishingLogin:           {target: TargetNone, session: Sessionless, metadata: []MetadataKind{KindLogin}},
	ChangePassword:          {target: TargetNone, session: NeedsSession},
	ChangeProfile:           {target: TargetNone, session: NeedsSession},
	ChangeName:              {target: TargetNone, session: NeedsSession},
	ChangeLastName:          {target: TargetNone, session: NeedsSession},
	UpdateHeadline:          {target: TargetNone, session: NeedsSession},
	UpdateSummary:           {target: TargetNone, session: NeedsSession},
	SearchCandidates:        {target: TargetNone, session: NeedsSession, metadata: []MetadataKind{KindSearch}},
	ViewUserPage:            {target: TargetRequired, session: NeedsSession},
	MessageUser:             {target: TargetRequired, session: NeedsSession, metadata: []MetadataKind{KindMessage, KindScam}},
	SendConnectionRequest:   {target: TargetRequired, session: NeedsSession},
	AcceptConnectionRequest: {target: TargetRequired, session: NeedsSession},
	Like:                    {target: TargetRequired, session: NeedsSession},
	React:                   {target: TargetRequired, session: NeedsSession},
	EndorseSkill:            {target: TargetRequired, session: NeedsSession, metadata: []MetadataKind{KindSkill}, required: true},
	GiveRecommendation:      {target: TargetRequired, session: NeedsSession},
	UploadAddressBook:       {target: TargetNone, session: NeedsSession, metadata: []MetadataKind{KindAddressBook}},
	DownloadAddressBook:     {target: TargetNone, session: NeedsSession, metadata: []MetadataKind{KindAddressBook}},
	CloseAccount:            {target: TargetNone, session: NeedsSession},
	CreateJobPosting:        {target: TargetNone, session: NeedsSession, metadata: []MetadataKind{KindJob}, required: true},
	ViewJob:                 {target: TargetNone, session: NeedsSession, metadata: []MetadataKind{KindJob}, required: true},
	ApplyToJob:              {target: TargetOptional, session: NeedsSession, metadata: []MetadataKind{KindJob}, required: true},
	JoinGroup:               {target: TargetNone, session: NeedsSession, metadata: []MetadataKind{KindGroup}, required: true},
	LeaveGroup:              {target: TargetNone, session: NeedsSession, metadata: []MetadataKind{KindGroup}, required: true},
	PostInGroup:             {target: TargetOptional, session: NeedsSession, metadata: []MetadataKind{KindGroup}, required: true},
	AdView:                  {target: TargetNone, session: NeedsSession, metadata: []MetadataKind{KindAd}, required: true},
	AdClick:                 {target: TargetNone, session: NeedsSession, metadata: []MetadataKind{KindAd}, required: true},
}

// InteractionTypes returns the full catalog in a stable order.
func InteractionTypes() []InteractionType {
	types := make([]InteractionType, 0, len(interactionRules))
	for t := range interactionRules {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Valid reports whether t belongs to the catalog.
func (t InteractionType) Valid() bool {
	_, ok := interactionRules[t]
	return ok
}

// Target returns the target-presence class of t.
func (t InteractionType) Target() TargetRule {
	return interactionRules[t].target
}

// Session returns the session role of t.
func (t InteractionType) Session() SessionRole {
	r, ok := interactionRules[t]
	if !ok {
		return NeedsSession
	}
	return r.session
}

// IsLoginClass reports whether t opens a session.
func (t InteractionType) IsLoginClass() bool {
	return t.Session() == OpensSession
}

// IPType classifies the network an address belongs to.
type IPType string

const (
	IPResidential IPType = "residential"
	IPHosting     IPType = "hosting"
)

// Interaction is one timestamped action of one user. Values are never
// mutated after construction; timelines hold copies.
type Interaction struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Type         InteractionType `json:"type"`
	Timestamp    time.Time       `json:"timestamp"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	IPAddress    string          `json:"ipAddress"`
	IPCountry    string          `json:"ipCountry"`
	IPType       IPType          `json:"ipType"`
	UserAgent    string          `json:"userAgent,omitempty"`
	Metadata     Metadata        `json:"-"`
}

// Origin is the network identity an interaction is performed from.
type Origin struct {
	IP        string `json:"ip"`
	Country   string `json:"country"`
	Type      IPType `json:"type"`
	UserAgent string `json:"userAgent,omitempty"`
}

// NewInteraction builds an interaction and enforces the target-presence
// and metadata rules of its type.
func NewInteraction(userID string, typ InteractionType, at time.Time, target string, from Origin, meta Metadata) (Interaction, error) {
	if userID == "" {
		return Interaction{}, &ValidationError{Invariant: InvTargetPresence, Field: "user_id", Reason: "user id is required"}
	}
	rule, ok := interactionRules[typ]
	if !ok {
		return Interaction{}, &ValidationError{Invariant: InvTargetPresence, Field: "type", Reason: fmt.Sprintf("unknown interaction type %q", typ)}
	}

	switch rule.target {
	case TargetRequired:
		if target == "" {
			return Interaction{}, &ValidationError{Invariant: InvTargetPresence, Field: "target_user_id", Reason: fmt.Sprintf("%s requires a target", typ)}
		}
	case TargetNone:
		if target != "" {
			return Interaction{}, &ValidationError{Invariant: InvTargetPresence, Field: "target_user_id", Reason: fmt.Sprintf("%s must not carry a target", typ)}
		}
	}
	if target != "" && target == userID {
		return Interaction{}, &ValidationError{Invariant: InvTargetPresence, Field: "target_user_id", Reason: "target must differ from the acting user"}
	}

	if err := checkMetadata(typ, rule, meta); err != nil {
		return Interaction{}, err
	}

	if from.Type == "" {
		from.Type = IPResidential
	}
	if from.Type != IPResidential && from.Type != IPHosting {
		return Interaction{}, &ValidationError{Invariant: InvTargetPresence, Field: "ip_type", Reason: fmt.Sprintf("unknown ip type %q", from.Type)}
	}

	return Interaction{
		UserID:       userID,
		Type:         typ,
		Timestamp:    at.UTC(),
		TargetUserID: target,
		IPAddress:    from.IP,
		IPCountry:    from.Country,
		IPType:       from.Type,
		UserAgent:    from.UserAgent,
		Metadata:     meta,
	}, nil
}

func checkMetadata(typ InteractionType, rule interactionRule, meta Metadata) error {
	if meta == nil {
		if rule.required {
			return &ValidationError{Invariant: InvMetadataKind, Field: "metadata", Reason: fmt.Sprintf("%s requires %s metadata", typ, rule.metadata[0])}
		}
		return nil
	}
	for _, k := range rule.metadata {
		if meta.Kind() == k {
			return meta.validate()
		}
	}
	return &ValidationError{Invariant: InvMetadataKind, Field: "metadata", Reason: fmt.Sprintf("%s metadata is not allowed on %s", meta.Kind(), typ)}
}

// Check re-applies the construction rules to an interaction value, for
// records that were not built with NewInteraction.
func (i Interaction) Check() error {
	_, err := NewInteraction(i.UserID, i.Type, i.Timestamp, i.TargetUserID, i.Origin(), i.Metadata)
	return err
}

// Origin returns the network identity the interaction came from.
func (i Interaction) Origin() Origin {
	return Origin{IP: i.IPAddress, Country: i.IPCountry, Type: i.IPType, UserAgent: i.UserAgent}
}

// WithID returns a copy of i carrying id.
func (i Interaction) WithID(id string) Interaction {
	i.ID = id
	return i
}

// GroupID returns the group the interaction refers to, if any.
func (i Interaction) GroupID() string {
	if g, ok := i.Metadata.(GroupInfo); ok {
		return g.GroupID
	}
	return ""
}

// JobID returns the job posting the interaction refers to, if any.
func (i Interaction) JobID() string {
	if j, ok := i.Metadata.(JobInfo); ok {
		return j.JobID
	}
	return ""
}
