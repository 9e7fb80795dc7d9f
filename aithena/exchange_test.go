package aithena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChatExchange(t *testing.T) {
	exchange := NewChatExchange(testUserID, optString("gpt-4o"), "a prompt")
	assert.Equal(t, testUserID, exchange.Author)
	assert.NotEmpty(t, exchange.ConversationID)
	assert.False(t, exchange.Timestamp.IsZero())
	assert.False(t, exchange.Success)
	assert.Zero(t, exchange.Cost)

	other := NewChatExchange(testUserID, nil, "a prompt")
	assert.NotEqual(t, exchange.ConversationID, other.ConversationID)
	assert.Nil(t, other.Model)
}

func TestChatExchangeString(t *testing.T) {
	exchange := NewChatExchange(testUserID, optString("gpt-4o"), "a prompt")
	exchange.Success = true
	exchange.Response = "a response\n"
	exchange.Cost = 0.042

	rendered := exchange.String()
	assert.Contains(t, rendered, exchange.ConversationID)
	assert.Contains(t, rendered, "model:              gpt-4o")
	assert.Contains(t, rendered, "cost:               $0.0420")
	assert.Contains(t, rendered, "response:           a response")

	exchange.Model = nil
	assert.Contains(t, exchange.String(), "<none>")
}

func TestNewImageExchange(t *testing.T) {
	exchange := NewImageExchange(
		testUserID,
		optString("dall-e-3"),
		optString("standard"),
		nil,
		"1024x1024",
		"a prompt",
	)
	assert.Equal(t, testUserID, exchange.Author)
	assert.NotEmpty(t, exchange.ImageID)
	assert.Equal(t, "1024x1024", exchange.Size)
	require.NotNil(t, exchange.Quality)
	assert.Equal(t, "standard", *exchange.Quality)
	assert.Nil(t, exchange.Style)

	rendered := exchange.String()
	assert.Contains(t, rendered, exchange.ImageID)
	assert.Contains(t, rendered, "style:          <none>")
}

func TestAPIUsageString(t *testing.T) {
	usage := APIUsage{
		GPTTotalTokens: 300,
		GPTCost:        0.05,
		DalleImages:    2,
		DalleCost:      0.08,
		TotalCost:      0.13,
	}
	rendered := usage.String()
	assert.Contains(t, rendered, "gpt_total_tokens:       300")
	assert.Contains(t, rendered, "gpt_cost:               $0.0500")
	assert.Contains(t, rendered, "dalle_images:           2")
	assert.Contains(t, rendered, "total_cost:             $0.1300")
}
