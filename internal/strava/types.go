package strava

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

var (
	// ErrRefreshFailed means no valid access token could be obtained.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrPageFailed means an activity page request failed and pagination stopped.
	ErrPageFailed = errors.New("activity page request failed")

	// ErrUnexpectedPayload marks a provider response without the expected shape.
	ErrUnexpectedPayload = errors.New("unexpected payload from strava")
)

var validate = validator.New()

// Activity type values that count toward the duel.
const (
	TypeRide        = "Ride"
	TypeVirtualRide = "VirtualRide"
)

// TokenGrant is a validated refresh-token response.
type TokenGrant struct {
	AccessToken  string `json:"access_token" validate:"required"`
	RefreshToken string `json:"refresh_token" validate:"required"`
	ExpiresAt    int64  `json:"expires_at" validate:"gt=0"`
}

// grantFromToken converts an oauth2 token into a TokenGrant. Strava sends
// expires_at alongside expires_in; when it is missing the computed Expiry
// is used instead.
func grantFromToken(tok *oauth2.Token) (*TokenGrant, error) {
	grant := &TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if v, ok := unixField(tok.Extra("expires_at")); ok {
		grant.ExpiresAt = v
	} else if !tok.Expiry.IsZero() {
		grant.ExpiresAt = tok.Expiry.Unix()
	}

	if err := validate.Struct(grant); err != nil {
		return nil, fmt.Errorf("%w: token response: %v", ErrUnexpectedPayload, err)
	}
	return grant, nil
}

func unixField(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), n > 0
	case int64:
		return n, n > 0
	case json.Number:
		i, err := n.Int64()
		return i, err == nil && i > 0
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil && i > 0
	default:
		return 0, false
	}
}

// rawActivity is the subset of a SummaryActivity the duel needs.
type rawActivity struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	SportType      string  `json:"sport_type"`
	StartDateLocal string  `json:"start_date_local" validate:"required,min=10"`
	Distance       float64 `json:"distance" validate:"gte=0"` // meters
}

// isRide reports whether the activity counts toward the duel.
func (a *rawActivity) isRide() bool {
	return a.Type == TypeRide || a.Type == TypeVirtualRide || a.SportType == TypeRide
}

// apiFault is the error body Strava returns instead of an activity array.
type apiFault struct {
	Message string `json:"message"`
	Errors  []struct {
		Resource string `json:"resource"`
		Field    string `json:"field"`
		Code     string `json:"code"`
	} `json:"errors"`
}

func (f *apiFault) String() string {
	if f.Message == "" {
		return "no message"
	}
	if len(f.Errors) > 0 {
		e := f.Errors[0]
		return fmt.Sprintf("%s (%s %s %s)", f.Message, e.Resource, e.Field, e.Code)
	}
	return f.Message
}
