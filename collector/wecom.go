package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// ChatMessage is the body posted to a WeCom group robot.
type ChatMessage struct {
	MsgType  string       `json:"msgtype"`
	Markdown *ChatContent `json:"markdown,omitempty"`
	Text     *ChatContent `json:"text,omitempty"`
}

type ChatContent struct {
	Content string `json:"content"`
}

func NewMarkdownMessage(content string) ChatMessage {
	return ChatMessage{MsgType: "markdown", Markdown: &ChatContent{Content: content}}
}

type ChatSender interface {
	Send(ctx context.Context, msg ChatMessage) error
}

// WeComClient posts messages to one robot webhook URL.
type WeComClient struct {
	url    string
	client *http.Client
}

func NewWeComClient(url string, timeout time.Duration) *WeComClient {
	client := cleanhttp.DefaultPooledClient()
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &WeComClient{url: url, client: client}
}

type wecomReply struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Send posts msg once. A non-2xx status or a non-zero errcode is an error.
func (c *WeComClient) Send(ctx context.Context, msg ChatMessage) error {
	if strings.TrimSpace(c.url) == "" {
		return fmt.Errorf("chat sink: webhook url is empty")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	replyBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ChatSinkError{StatusCode: resp.StatusCode}
	}
	var reply wecomReply
	if len(bytes.TrimSpace(replyBody)) == 0 || json.Unmarshal(replyBody, &reply) != nil {
		return nil
	}
	if reply.ErrCode != 0 {
		return &ChatSinkError{StatusCode: resp.StatusCode, ErrCode: reply.ErrCode, Message: reply.ErrMsg}
	}
	return nil
}
