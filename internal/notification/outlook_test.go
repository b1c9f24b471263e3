package notification_test

import (
	"context"
	"errors"
	"testing"

	emaildomain "maildash-backend/internal/email/domain"
	"maildash-backend/internal/notification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageIDFromResource(t *testing.T) {
	cases := map[string]string{
		"Users/u1/Messages/AAMk=":              "AAMk=",
		"me/mailFolders('Inbox')/messages/abc": "abc",
		"Users('u1')/Messages('AQMk')":         "AQMk",
		"Users/u/Messages/":                    "",
		"/":                                    "",
		"":                                     "",
	}
	for in, want := range cases {
		assert.Equal(t, want, notification.MessageIDFromResource(in), in)
	}
}

func outlookFixture() (*fakeEmailUsecase, *notification.OutlookProcessor) {
	uc := newFakeEmailUsecase()
	uc.known["user@outlook.com"] = true
	uc.subscriptions["sub-1"] = &emaildomain.Subscription{ID: "sub-1", Provider: "outlook", Account: "user@outlook.com"}
	return uc, notification.NewOutlookProcessor(uc, "secret")
}

func TestOutlookValidateRejectsForeignState(t *testing.T) {
	_, p := outlookFixture()

	batch := &notification.OutlookBatch{Value: []notification.OutlookNotification{
		{SubscriptionID: "sub-1", ClientState: "secret", Resource: "Users/u/Messages/m1"},
		{SubscriptionID: "sub-1", ClientState: "guess", Resource: "Users/u/Messages/m2"},
	}}
	assert.ErrorIs(t, p.Validate(batch), notification.ErrClientState)

	batch = &notification.OutlookBatch{ClientState: "guess"}
	assert.ErrorIs(t, p.Validate(batch), notification.ErrClientState)

	batch = &notification.OutlookBatch{Value: []notification.OutlookNotification{{ClientState: "secret"}}}
	assert.NoError(t, p.Validate(batch))
}

func TestOutlookProcessIsolatesFailures(t *testing.T) {
	uc, p := outlookFixture()
	uc.failMessage["m2"] = errors.New("graph 500")

	batch := &notification.OutlookBatch{Value: []notification.OutlookNotification{
		{SubscriptionID: "sub-1", ClientState: "secret", ChangeType: "created", Resource: "Users/u/Messages/m1"},
		{SubscriptionID: "sub-1", ClientState: "secret", ChangeType: "created", Resource: "/"},
		{SubscriptionID: "sub-1", ClientState: "secret", ChangeType: "created", Resource: "Users/u/Messages/"},
		{SubscriptionID: "sub-1", ClientState: "secret", ChangeType: "created", Resource: "Users/u/Messages/m2"},
		{SubscriptionID: "sub-1", ClientState: "secret", ChangeType: "created", Resource: "Users/u/Messages/boom"},
		{SubscriptionID: "sub-unknown", ClientState: "secret", ChangeType: "created", Resource: "Users/u/Messages/m3"},
		{SubscriptionID: "sub-1", ClientState: "secret", ChangeType: "updated", Resource: "Users/u/Messages/m4"},
	}}
	require.NoError(t, p.Validate(batch))

	result := p.Process(context.Background(), batch)
	assert.Equal(t, notification.BatchResult{Processed: 2, Skipped: 1, Failed: 4}, result)
	assert.Equal(t, []string{"m1", "m2", "boom", "m4"}, uc.MessageCalls())
}

func TestOutlookProcessFallsBackToResourceData(t *testing.T) {
	uc, p := outlookFixture()

	n := notification.OutlookNotification{SubscriptionID: "sub-1", ClientState: "secret", ChangeType: "created"}
	n.ResourceData = &notification.ResourceData{ODataType: "#Microsoft.Graph.Message", ID: "rd-1"}

	result := p.Process(context.Background(), &notification.OutlookBatch{Value: []notification.OutlookNotification{n}})
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, []string{"rd-1"}, uc.MessageCalls())
}
