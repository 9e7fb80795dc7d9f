package aithena

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLastChatExchange(t *testing.T) {
	cfg := newTestConfig(t)
	store := newTestStore(t, cfg)
	ctx := context.Background()

	first := NewChatExchange(testUserID, optString("gpt-4o"), "first prompt")
	first.Success = true
	first.Response = "first response"
	first.RequestTokens = 10
	first.ResponseTokens = 20
	first.TotalTokens = 30
	first.Cost = 0.01
	require.NoError(t, store.SaveChatExchange(ctx, first))
	assert.NotZero(t, first.ID)

	second := NewChatExchange(testOtherUserID, optString("gpt-4o"), "second prompt")
	second.Success = true
	second.Response = "second response"
	second.Timestamp = first.Timestamp.Add(time.Second)
	require.NoError(t, store.SaveChatExchange(ctx, second))

	// unfiltered returns the most recent row
	last, err := store.LastChatExchange(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, second.ConversationID, last.ConversationID)
	assert.Equal(t, testOtherUserID, last.Author)

	// filtered by author
	author := testUserID
	last, err = store.LastChatExchange(ctx, &author)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, first.ConversationID, last.ConversationID)
	assert.Equal(t, "first prompt", last.Prompt)
	assert.Equal(t, "first response", last.Response)
	assert.Equal(t, 30, last.TotalTokens)
	require.NotNil(t, last.Model)
	assert.Equal(t, "gpt-4o", *last.Model)

	// no rows for an unknown author
	unknown := testUnlimitedID
	last, err = store.LastChatExchange(ctx, &unknown)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestSaveAndLastImage(t *testing.T) {
	cfg := newTestConfig(t)
	store := newTestStore(t, cfg)
	ctx := context.Background()

	exchange := NewImageExchange(
		testUserID,
		optString("dall-e-3"),
		optString("hd"),
		nil,
		"1024x1792",
		"a lighthouse at dusk",
	)
	exchange.Success = true
	exchange.URL = "https://example.com/image.png"
	exchange.Cost = 0.12
	require.NoError(t, store.SaveImageExchange(ctx, exchange))
	assert.NotZero(t, exchange.ID)

	last, err := store.LastImage(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, exchange.ImageID, last.ImageID)
	assert.Equal(t, "1024x1792", last.Size)
	assert.Equal(t, "https://example.com/image.png", last.URL)
	require.NotNil(t, last.Quality)
	assert.Equal(t, "hd", *last.Quality)

	// NULL columns survive the round trip
	assert.Nil(t, last.Style)
	assert.Nil(t, last.Exception)

	// empty table
	other := testOtherUserID
	last, err = store.LastImage(ctx, &other)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestAPIUsageEmpty(t *testing.T) {
	cfg := newTestConfig(t)
	store := newTestStore(t, cfg)

	usage, err := store.APIUsage(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Zero(t, usage.GPTTotalTokens)
	assert.Zero(t, usage.GPTCost)
	assert.Zero(t, usage.DalleImages)
	assert.Zero(t, usage.DalleCost)
	assert.Zero(t, usage.TotalCost)
}

func TestAPIUsageAggregates(t *testing.T) {
	cfg := newTestConfig(t)
	store := newTestStore(t, cfg)
	ctx := context.Background()

	chat := NewChatExchange(testUserID, optString("gpt-4o"), "prompt one")
	chat.Success = true
	chat.RequestTokens = 100
	chat.ResponseTokens = 200
	chat.TotalTokens = 300
	chat.Cost = 0.05
	require.NoError(t, store.SaveChatExchange(ctx, chat))

	// failed exchanges carry zero cost but still count as rows
	failed := NewChatExchange(testUserID, optString("gpt-4o"), "prompt two")
	failed.Success = false
	failed.Response = "failed to get response: boom"
	require.NoError(t, store.SaveChatExchange(ctx, failed))

	otherChat := NewChatExchange(testOtherUserID, optString("gpt-4o"), "prompt three")
	otherChat.Success = true
	otherChat.RequestTokens = 10
	otherChat.ResponseTokens = 20
	otherChat.TotalTokens = 30
	otherChat.Cost = 0.01
	require.NoError(t, store.SaveChatExchange(ctx, otherChat))

	img := NewImageExchange(
		testUserID, optString("dall-e-3"), optString("standard"), nil,
		"1024x1024", "an image prompt",
	)
	img.Success = true
	img.Cost = 0.04
	require.NoError(t, store.SaveImageExchange(ctx, img))

	failedImg := NewImageExchange(
		testUserID, optString("dall-e-3"), optString("standard"), nil,
		"1024x1024", "another image prompt",
	)
	failedImg.Success = false
	failedImg.Exception = optString("boom")
	require.NoError(t, store.SaveImageExchange(ctx, failedImg))

	// overall usage
	usage, err := store.APIUsage(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 110, usage.GPTRequestTokens)
	assert.Equal(t, 220, usage.GPTResponseTokens)
	assert.Equal(t, 330, usage.GPTTotalTokens)
	assert.InDelta(t, 0.06, usage.GPTCost, 0.0001)
	assert.Equal(t, 2, usage.DalleImages)
	assert.InDelta(t, 0.04, usage.DalleCost, 0.0001)
	assert.InDelta(t, usage.GPTCost+usage.DalleCost, usage.TotalCost, 0.0001)
	assert.Zero(t, usage.User)

	// filtered to one author
	author := testUserID
	usage, err = store.APIUsage(ctx, &author, false)
	require.NoError(t, err)
	assert.Equal(t, 300, usage.GPTTotalTokens)
	assert.InDelta(t, 0.05, usage.GPTCost, 0.0001)
	assert.Equal(t, 2, usage.DalleImages)
	assert.Equal(t, testUserID, usage.User)
}

func TestAPIUsageWindowed(t *testing.T) {
	cfg := newTestConfig(t)
	store := newTestStore(t, cfg)
	ctx := context.Background()

	_, interval := cfg.UsageLimit()

	stale := NewChatExchange(testUserID, optString("gpt-4o"), "old prompt")
	stale.Success = true
	stale.TotalTokens = 1000
	stale.Cost = 0.50
	stale.Timestamp = time.Now().UTC().Add(-interval - time.Hour)
	require.NoError(t, store.SaveChatExchange(ctx, stale))

	fresh := NewChatExchange(testUserID, optString("gpt-4o"), "new prompt")
	fresh.Success = true
	fresh.TotalTokens = 100
	fresh.Cost = 0.05
	require.NoError(t, store.SaveChatExchange(ctx, fresh))

	windowed, err := store.APIUsage(ctx, nil, true)
	require.NoError(t, err)
	assert.Equal(t, 100, windowed.GPTTotalTokens)
	assert.InDelta(t, 0.05, windowed.GPTCost, 0.0001)

	all, err := store.APIUsage(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1100, all.GPTTotalTokens)
	assert.InDelta(t, 0.55, all.GPTCost, 0.0001)
}

func TestCreateDBUnsupportedType(t *testing.T) {
	_, err := CreateDB(
		context.Background(),
		"mysql",
		"unused",
		nil,
		DefaultDatabaseSlowThreshold,
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}
