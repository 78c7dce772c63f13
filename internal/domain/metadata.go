package domain

import (
	"encoding/json"
	"fmt"
)

// MetadataKind names a metadata variant.
type MetadataKind string

const (
	KindLogin       MetadataKind = "login"
	KindMessage     MetadataKind = "message"
	KindScam        MetadataKind = "scam"
	KindSkill       MetadataKind = "skill"
	KindAddressBook MetadataKind = "address_book"
	KindJob         MetadataKind = "job"
	KindGroup       MetadataKind = "group"
	KindAd          MetadataKind = "ad"
	KindSearch      MetadataKind = "search"
)

// Metadata is the type-specific payload of an interaction. The set of
// variants is closed; see interactionRules for which kinds each type accepts.
type Metadata interface {
	Kind() MetadataKind
	validate() error
}

// LoginInfo annotates login-class and login-attempt events.
type LoginInfo struct {
	Attempt      int  `json:"attempt,omitempty"`
	StolenCookie bool `json:"stolenCookie,omitempty"`
}

// MessageInfo describes an outbound message.
type MessageInfo struct {
	Category string `json:"category"`
	Subject  string `json:"subject,omitempty"`
	URL      string `json:"url,omitempty"`
}

// ScamInfo marks a message that belongs to a staged scam conversation.
type ScamInfo struct {
	Phase string `json:"phase"`
}

// SkillInfo identifies the endorsed skill.
type SkillInfo struct {
	SkillID string `json:"skillId"`
}

// AddressBookInfo carries the size of an uploaded or downloaded address book.
type AddressBookInfo struct {
	ContactCount int `json:"contactCount"`
}

// JobInfo identifies a job posting.
type JobInfo struct {
	JobID            string `json:"jobId"`
	PhishingRedirect bool   `json:"phishingRedirect,omitempty"`
}

// GroupInfo identifies a group.
type GroupInfo struct {
	GroupID string `json:"groupId"`
}

// AdInfo identifies an ad impression or click.
type AdInfo struct {
	AdID       string `json:"adId"`
	CampaignID string `json:"campaignId,omitempty"`
}

// SearchInfo records a candidate search.
type SearchInfo struct {
	Query   string `json:"query,omitempty"`
	Results int    `json:"results,omitempty"`
}

func (LoginInfo) Kind() MetadataKind       { return KindLogin }
func (MessageInfo) Kind() MetadataKind     { return KindMessage }
func (ScamInfo) Kind() MetadataKind        { return KindScam }
func (SkillInfo) Kind() MetadataKind       { return KindSkill }
func (AddressBookInfo) Kind() MetadataKind { return KindAddressBook }
func (JobInfo) Kind() MetadataKind         { return KindJob }
func (GroupInfo) Kind() MetadataKind       { return KindGroup }
func (AdInfo) Kind() MetadataKind          { return KindAd }
func (SearchInfo) Kind() MetadataKind      { return KindSearch }

func (m LoginInfo) validate() error {
	if m.Attempt < 0 {
		return metadataError(m.Kind(), "attempt must not be negative")
	}
	return nil
}

func (m MessageInfo) validate() error { return nil }

func (m ScamInfo) validate() error {
	if m.Phase == "" {
		return metadataError(m.Kind(), "phase is required")
	}
	return nil
}

func (m SkillInfo) validate() error {
	if m.SkillID == "" {
		return metadataError(m.Kind(), "skill id is required")
	}
	return nil
}

func (m AddressBookInfo) validate() error {
	if m.ContactCount < 0 {
		return metadataError(m.Kind(), "contact count must not be negative")
	}
	return nil
}

func (m JobInfo) validate() error {
	if m.JobID == "" {
		return metadataError(m.Kind(), "job id is required")
	}
	return nil
}

func (m GroupInfo) validate() error {
	if m.GroupID == "" {
		return metadataError(m.Kind(), "group id is required")
	}
	return nil
}

func (m AdInfo) validate() error {
	if m.AdID == "" {
		return metadataError(m.Kind(), "ad id is required")
	}
	return nil
}

func (m SearchInfo) validate() error { return nil }

func metadataError(kind MetadataKind, reason string) error {
	return &ValidationError{Invariant: InvMetadataKind, Field: "metadata." + string(kind), Reason: reason}
}

// interactionJSON is the wire form of Interaction; metadata travels with its kind.
type interactionJSON struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Type         InteractionType `json:"type"`
	Timestamp    string          `json:"timestamp"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	IPAddress    string          `json:"ipAddress"`
	IPCountry    string          `json:"ipCountry"`
	IPType       IPType          `json:"ipType"`
	UserAgent    string          `json:"userAgent,omitempty"`
	MetaKind     MetadataKind    `json:"metadataKind,omitempty"`
	Meta         json.RawMessage `json:"metadata,omitempty"`
}

// MarshalJSON encodes the interaction with its metadata variant.
func (i Interaction) MarshalJSON() ([]byte, error) {
	w := interactionJSON{
		ID:           i.ID,
		UserID:       i.UserID,
		Type:         i.Type,
		Timestamp:    i.Timestamp.UTC().Format(timeLayout),
		TargetUserID: i.TargetUserID,
		IPAddress:    i.IPAddress,
		IPCountry:    i.IPCountry,
		IPType:       i.IPType,
		UserAgent:    i.UserAgent,
	}
	if i.Metadata != nil {
		raw, err := json.Marshal(i.Metadata)
		if err != nil {
			return nil, err
		}
		w.MetaKind = i.Metadata.Kind()
		w.Meta = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes an interaction and re-applies the construction rules,
// so a decoded interaction is as trustworthy as one built with NewInteraction.
func (i *Interaction) UnmarshalJSON(data []byte) error {
	var w interactionJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := parseTime(w.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: timestamp: %v", ErrInvalidInput, err)
	}
	meta, err := DecodeMetadata(w.MetaKind, w.Meta)
	if err != nil {
		return err
	}
	built, err := NewInteraction(w.UserID, w.Type, ts, w.TargetUserID,
		Origin{IP: w.IPAddress, Country: w.IPCountry, Type: w.IPType, UserAgent: w.UserAgent}, meta)
	if err != nil {
		return err
	}
	*i = built.WithID(w.ID)
	return nil
}

// EncodeMetadata returns the kind and JSON body of m, or empty values for nil.
func EncodeMetadata(m Metadata) (MetadataKind, []byte, error) {
	if m == nil {
		return "", nil, nil
	}
	raw, err := json.Marshal(m)
	return m.Kind(), raw, err
}

// DecodeMetadata rebuilds a metadata variant from its kind and JSON body.
func DecodeMetadata(kind MetadataKind, raw []byte) (Metadata, error) {
	if kind == "" {
		return nil, nil
	}
	var (
		m   Metadata
		err error
	)
	switch kind {
	case KindLogin:
		var v LoginInfo
		err = json.Unmarshal(raw, &v)
		m = v
	case KindMessage:
		var v MessageInfo
		err = json.Unmarshal(raw, &v)
		m = v
	case KindScam:
		var v ScamInfo
		err = json.Unmarshal(raw, &v)
		m = v
	case KindSkill:
		var v SkillInfo
		err = json.Unmarshal(raw, &v)
		m = v
	case KindAddressBook:
		var v AddressBookInfo
		err = json.Unmarshal(raw, &v)
		m = v
	case KindJob:
		var v JobInfo
		err = json.Unmarshal(raw, &v)
		m = v
	case KindGroup:
		var v GroupInfo
		err = json.Unmarshal(raw, &v)
		m = v
	case KindAd:
		var v AdInfo
		err = json.Unmarshal(raw, &v)
		m = v
	case KindSearch:
		var v SearchInfo
		err = json.Unmarshal(raw, &v)
		m = v
	default:
		return nil, fmt.Errorf("%w: unknown metadata kind %q", ErrInvalidInput, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: metadata %s: %v", ErrInvalidInput, kind, err)
	}
	return m, nil
}
