// Package features reduces a user timeline to a fixed numeric vector. The
// same Extract serves generated corpora and persisted timelines.
package features

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Feature names, in schema order.
const (
	LoginToDownloadMinutes        = "login_to_download_minutes"
	DownloadToFirstMessageMinutes = "download_to_first_message_minutes"
	InteractionsLast1h            = "interactions_last_1h"
	InteractionsPerHour24h        = "interactions_per_hour_24h"
	FirstLoginToCloseHours        = "first_login_to_close_hours"
	IPCountryMismatch             = "ip_country_mismatch"
	DistinctCountriesLast7d       = "distinct_countries_last_7d"
	RatioHostingIPs               = "ratio_hosting_ips"
	DistinctIPsLast24h            = "distinct_ips_last_24h"
	LoginFailuresBeforeSuccess    = "login_failures_before_success"
	MessagesLast24h               = "messages_last_24h"
	UniqueTargetsMessagedLast24h  = "unique_targets_messaged_last_24h"
	DownloadAddressBookCount      = "download_address_book_count"
	SameIPSharedWithOthers        = "same_ip_shared_with_others"
	SessionsLast7d                = "sessions_last_7d"
	FailedLoginStreak             = "failed_login_streak"
	ConnectionsCount              = "connections_count"
	HasProfilePhoto               = "has_profile_photo"
	ProfileCompleteness           = "profile_completeness"
	EndorsementsCount             = "endorsements_count"
	ProfileViewsReceived          = "profile_views_received"
	EmailVerified                 = "email_verified"
	TwoFactorEnabled              = "two_factor_enabled"
	PhoneVerified                 = "phone_verified"
	AccountTierPremium            = "account_tier_premium"
	AccountTierEnterprise         = "account_tier_enterprise"
	AccountAgeDays                = "account_age_days"
	HourOfDaySin                  = "hour_of_day_sin"
	HourOfDayCos                  = "hour_of_day_cos"
	DaysSinceLastActivity         = "days_since_last_activity"
	ScriptUserAgent               = "script_user_agent"
)

// Names is the fixed schema. Order is part of the contract.
var Names = [...]string{
	LoginToDownloadMinutes,
	DownloadToFirstMessageMinutes,
	InteractionsLast1h,
	InteractionsPerHour24h,
	FirstLoginToCloseHours,
	IPCountryMismatch,
	DistinctCountriesLast7d,
	RatioHostingIPs,
	DistinctIPsLast24h,
	LoginFailuresBeforeSuccess,
	MessagesLast24h,
	UniqueTargetsMessagedLast24h,
	DownloadAddressBookCount,
	SameIPSharedWithOthers,
	SessionsLast7d,
	FailedLoginStreak,
	ConnectionsCount,
	HasProfilePhoto,
	ProfileCompleteness,
	EndorsementsCount,
	ProfileViewsReceived,
	EmailVerified,
	TwoFactorEnabled,
	PhoneVerified,
	AccountTierPremium,
	AccountTierEnterprise,
	AccountAgeDays,
	HourOfDaySin,
	HourOfDayCos,
	DaysSinceLastActivity,
	ScriptUserAgent,
}

// NoActivityDays is days_since_last_activity for an empty timeline.
const NoActivityDays = 999

var index = func() map[string]int {
	m := make(map[string]int, len(Names))
	for i, n := range Names {
		m[n] = i
	}
	return m
}()

// Vector is one user's feature values in schema order.
type Vector struct {
	values [len(Names)]float64
}

// FromValues builds a vector from values in schema order.
func FromValues(values []float64) (Vector, error) {
	var v Vector
	if len(values) != len(Names) {
		return v, fmt.Errorf("%w: expected %d feature values, got %d", domain.ErrInvalidInput, len(Names), len(values))
	}
	copy(v.values[:], values)
	return v, nil
}

// FromMap builds a vector from named values. Missing names are zero.
func FromMap(m map[string]float64) (Vector, error) {
	var v Vector
	for name, val := range m {
		i, ok := index[name]
		if !ok {
			return v, fmt.Errorf("%w: unknown feature %q", domain.ErrInvalidInput, name)
		}
		v.values[i] = val
	}
	return v, nil
}

// Values returns a copy of the values in schema order.
func (v Vector) Values() []float64 {
	out := make([]float64, len(v.values))
	copy(out, v.values[:])
	return out
}

// Get returns the named value.
func (v Vector) Get(name string) (float64, bool) {
	i, ok := index[name]
	if !ok {
		return 0, false
	}
	return v.values[i], true
}

// Map returns the values keyed by name.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, len(Names))
	for i, n := range Names {
		m[n] = v.values[i]
	}
	return m
}

func (v *Vector) set(name string, val float64) { v.values[index[name]] = val }

func (v *Vector) flag(name string, on bool) {
	if on {
		v.set(name, 1)
	}
}

// MarshalJSON writes the vector as an object in schema order.
func (v Vector) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range Names {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(n))
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(v.values[i], 'g', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object of named values.
func (v *Vector) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out, err := FromMap(m)
	if err != nil {
		return err
	}
	*v = out
	return nil
}
