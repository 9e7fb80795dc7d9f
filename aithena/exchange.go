//nolint:lll // struct tags can't be split
package aithena

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChatExchange is the full record of one chat interaction: the prompt, the
// response (or failure detail), token counts and cost. One row is written
// per chat command invocation, success or not. Immutable after creation.
type ChatExchange struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Author         uint64    `gorm:"column:author;index" json:"author"`
	ConversationID string    `gorm:"column:conversation_id;index;type:string" json:"conversation_id"`
	Timestamp      time.Time `gorm:"column:timestamp;index" json:"timestamp"`
	Success        bool      `gorm:"column:success" json:"success"`
	Model          *string   `gorm:"column:model" json:"model,omitempty"`
	Prompt         string    `gorm:"column:prompt;type:text" json:"prompt"`
	Response       string    `gorm:"column:response;type:text" json:"response"`
	RequestTokens  int       `gorm:"column:request_tokens" json:"request_tokens"`
	ResponseTokens int       `gorm:"column:response_tokens" json:"response_tokens"`
	TotalTokens    int       `gorm:"column:total_tokens" json:"total_tokens"`
	Cost           float64   `gorm:"column:cost" json:"cost"`
}

// TableName implements the gorm schema.Tabler interface.
func (ChatExchange) TableName() string {
	return "gpt_conversations"
}

// NewChatExchange returns an unsaved exchange for the given prompt, with a
// fresh conversation ID and the current time.
func NewChatExchange(author uint64, model *string, prompt string) *ChatExchange {
	return &ChatExchange{
		Author:         author,
		ConversationID: uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		Model:          model,
		Prompt:         prompt,
	}
}

func (e *ChatExchange) String() string {
	return strings.Join(
		[]string{
			fmt.Sprintf("row_id:             %d", e.ID),
			fmt.Sprintf("author:             %d", e.Author),
			fmt.Sprintf("conversation_id:    %s", e.ConversationID),
			fmt.Sprintf("timestamp:          %s", e.Timestamp),
			fmt.Sprintf("success:            %t", e.Success),
			fmt.Sprintf("model:              %s", stringOrNone(e.Model)),
			fmt.Sprintf("request_tokens:     %d", e.RequestTokens),
			fmt.Sprintf("response_tokens:    %d", e.ResponseTokens),
			fmt.Sprintf("total_tokens:       %d", e.TotalTokens),
			fmt.Sprintf("cost:               %s", formatDollarString(e.Cost)),
			fmt.Sprintf("prompt:             %s", e.Prompt),
			fmt.Sprintf("response:           %s", strings.TrimSpace(e.Response)),
		},
		"\n",
	)
}

// ImageExchange is the analogous record for one image generation. On
// failure, URL is empty and Exception carries the error detail.
type ImageExchange struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ImageID   string    `gorm:"column:image_id;type:string" json:"image_id"`
	Author    uint64    `gorm:"column:author;index" json:"author"`
	Timestamp time.Time `gorm:"column:timestamp;index" json:"timestamp"`
	Success   bool      `gorm:"column:success" json:"success"`
	Prompt    string    `gorm:"column:prompt;type:text" json:"prompt"`
	Model     *string   `gorm:"column:model" json:"model,omitempty"`
	Quality   *string   `gorm:"column:quality" json:"quality,omitempty"`
	Style     *string   `gorm:"column:style" json:"style,omitempty"`
	Size      string    `gorm:"column:size;size:16" json:"size"`
	URL       string    `gorm:"column:url;type:text" json:"url"`
	Cost      float64   `gorm:"column:cost" json:"cost"`
	Exception *string   `gorm:"column:exception" json:"exception,omitempty"`
}

// TableName implements the gorm schema.Tabler interface.
func (ImageExchange) TableName() string {
	return "dalle_images"
}

// NewImageExchange returns an unsaved exchange for the given prompt, with
// a fresh image ID and the current time.
func NewImageExchange(
	author uint64,
	model *string,
	quality *string,
	style *string,
	size string,
	prompt string,
) *ImageExchange {
	return &ImageExchange{
		ImageID:   uuid.NewString(),
		Author:    author,
		Timestamp: time.Now().UTC(),
		Model:     model,
		Quality:   quality,
		Style:     style,
		Size:      size,
		Prompt:    prompt,
	}
}

func (e *ImageExchange) String() string {
	return strings.Join(
		[]string{
			fmt.Sprintf("row_id:         %d", e.ID),
			fmt.Sprintf("author:         %d", e.Author),
			fmt.Sprintf("image_id:       %s", e.ImageID),
			fmt.Sprintf("timestamp:      %s", e.Timestamp),
			fmt.Sprintf("success:        %t", e.Success),
			fmt.Sprintf("model:          %s", stringOrNone(e.Model)),
			fmt.Sprintf("quality:        %s", stringOrNone(e.Quality)),
			fmt.Sprintf("style:          %s", stringOrNone(e.Style)),
			fmt.Sprintf("size:           %s", e.Size),
			fmt.Sprintf("cost:           %s", formatDollarString(e.Cost)),
			fmt.Sprintf("prompt:         %s", e.Prompt),
			fmt.Sprintf("url:            %s", strings.TrimSpace(e.URL)),
			fmt.Sprintf("exception:      %s", stringOrNone(e.Exception)),
		},
		"\n",
	)
}

// APIUsage is the aggregate of persisted exchanges: token and cost sums
// across chat rows, image count and cost across image rows. TotalCost is
// always GPTCost + DalleCost.
type APIUsage struct {
	GPTRequestTokens  int     `json:"gpt_request_tokens"`
	GPTResponseTokens int     `json:"gpt_response_tokens"`
	GPTTotalTokens    int     `json:"gpt_total_tokens"`
	GPTCost           float64 `json:"gpt_cost"`
	DalleImages       int     `json:"dalle_images"`
	DalleCost         float64 `json:"dalle_cost"`
	TotalCost         float64 `json:"total_cost"`

	// User is the filtered user ID, zero for overall usage
	User uint64 `json:"user,omitempty"`

	// Timestamp is when the aggregate was computed
	Timestamp time.Time `json:"timestamp"`
}

func (u APIUsage) String() string {
	return strings.Join(
		[]string{
			fmt.Sprintf("timestamp:              %s", u.Timestamp),
			fmt.Sprintf("gpt_request_tokens:     %d", u.GPTRequestTokens),
			fmt.Sprintf("gpt_response_tokens:    %d", u.GPTResponseTokens),
			fmt.Sprintf("gpt_total_tokens:       %d", u.GPTTotalTokens),
			fmt.Sprintf("gpt_cost:               %s", formatDollarString(u.GPTCost)),
			fmt.Sprintf("dalle_images:           %d", u.DalleImages),
			fmt.Sprintf("dalle_cost:             %s", formatDollarString(u.DalleCost)),
			fmt.Sprintf("total_cost:             %s", formatDollarString(u.TotalCost)),
		},
		"\n",
	)
}

func stringOrNone(s *string) string {
	if s == nil {
		return "<none>"
	}
	return *s
}
