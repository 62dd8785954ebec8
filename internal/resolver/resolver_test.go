package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"signalpush/internal/model"
)

type profile struct {
	userID   string
	deviceID string
	token    *string
}

// fakeDirectory answers Filter queries over an in-memory user_profiles table.
type fakeDirectory struct {
	profiles []profile
	err      error
	filters  []Filter
}

func (d *fakeDirectory) Tokens(_ context.Context, f Filter) ([]*string, error) {
	d.filters = append(d.filters, f)
	if d.err != nil {
		return nil, d.err
	}
	var out []*string
	for _, p := range d.profiles {
		switch {
		case f.UserID != "":
			if p.userID != f.UserID {
				continue
			}
		case len(f.DeviceIDs) > 0:
			if !contains(f.DeviceIDs, p.deviceID) {
				continue
			}
		}
		out = append(out, p.token)
	}
	return out, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func ptr(s string) *string { return &s }

func newDirectory() *fakeDirectory {
	return &fakeDirectory{profiles: []profile{
		{userID: "u1", deviceID: "d1", token: ptr("tok-1")},
		{userID: "u1", deviceID: "d2", token: ptr("tok-2")},
		{userID: "u2", deviceID: "d3", token: ptr("tok-3")},
		{userID: "u3", deviceID: "d4", token: nil},
		{userID: "u4", deviceID: "d5", token: ptr("  ")},
		{userID: "u5", deviceID: "d6", token: ptr("tok-1")},
	}}
}

func TestResolve_TargetUserOnly(t *testing.T) {
	dir := newDirectory()
	r := New(dir, zap.NewNop())

	tokens := r.Resolve(context.Background(), model.NotificationRequest{TargetUser: "u1"})

	assert.Equal(t, []string{"tok-1", "tok-2"}, tokens)
}

func TestResolve_TargetUserWinsOverDeviceIDs(t *testing.T) {
	dir := newDirectory()
	r := New(dir, zap.NewNop())

	tokens := r.Resolve(context.Background(), model.NotificationRequest{
		TargetUser:      "u2",
		TargetDeviceIDs: []string{"d1", "d2"},
	})

	assert.Equal(t, []string{"tok-3"}, tokens)
	assert.Equal(t, []Filter{{UserID: "u2"}}, dir.filters)
}

func TestResolve_UnknownUserIsEmpty(t *testing.T) {
	r := New(newDirectory(), zap.NewNop())

	tokens := r.Resolve(context.Background(), model.NotificationRequest{TargetUser: "nobody"})

	assert.NotNil(t, tokens)
	assert.Empty(t, tokens)
}

func TestResolve_DeviceIDsDropUnknown(t *testing.T) {
	r := New(newDirectory(), zap.NewNop())

	tokens := r.Resolve(context.Background(), model.NotificationRequest{
		TargetDeviceIDs: []string{"d3", "missing", "d2"},
	})

	assert.ElementsMatch(t, []string{"tok-2", "tok-3"}, tokens)
}

func TestResolve_BroadcastFiltersAndDedupes(t *testing.T) {
	dir := newDirectory()
	r := New(dir, zap.NewNop())

	tokens := r.Resolve(context.Background(), model.NotificationRequest{TargetDeviceIDs: []string{}})

	assert.Equal(t, []string{"tok-1", "tok-2", "tok-3"}, tokens)
	assert.Equal(t, []Filter{{}}, dir.filters)
}

func TestResolve_DirectoryErrorIsZeroRecipients(t *testing.T) {
	r := New(&fakeDirectory{err: errors.New("connection refused")}, zap.NewNop())

	tokens := r.Resolve(context.Background(), model.NotificationRequest{TargetUser: "u1"})

	assert.NotNil(t, tokens)
	assert.Empty(t, tokens)
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Dedupe([]*string{ptr("a"), nil, ptr(""), ptr("b"), ptr("a")}))
	assert.Empty(t, Dedupe(nil))
}
