// Package inbox provides a client for the inbox messaging API.
package inbox

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/eldtechnologies/inbox/internal/crypto"
	"github.com/eldtechnologies/inbox/internal/models"
)

// Client is an inbox API client.
type Client struct {
	BaseURL       string
	ConfigDir     string
	ParticipantID int64
	PublicKey     ed25519.PublicKey
	PrivateKey    ed25519.PrivateKey
	HTTPClient    *http.Client
}

// Config holds participant configuration.
type Config struct {
	ID        int64  `json:"id"`
	PublicKey string `json:"public_key"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("inbox error %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a new inbox client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("INBOX_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".inbox")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// LoadConfig loads participant credentials from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "participant.json"))
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}

	keyData, err := os.ReadFile(filepath.Join(c.ConfigDir, "private.key"))
	if err != nil {
		return err
	}

	seed, err := base64.StdEncoding.DecodeString(string(keyData))
	if err != nil {
		return err
	}
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("private.key: want %d byte seed, got %d", ed25519.SeedSize, len(seed))
	}

	c.ParticipantID = config.ID
	c.PrivateKey = ed25519.NewKeyFromSeed(seed)
	c.PublicKey = c.PrivateKey.Public().(ed25519.PublicKey)

	return nil
}

// SaveConfig saves participant credentials to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	config := Config{
		ID:        c.ParticipantID,
		PublicKey: base64.StdEncoding.EncodeToString(c.PublicKey),
	}

	data, _ := json.MarshalIndent(config, "", "  ")
	if err := os.WriteFile(filepath.Join(c.ConfigDir, "participant.json"), data, 0600); err != nil {
		return err
	}

	keyData := base64.StdEncoding.EncodeToString(c.PrivateKey.Seed())
	return os.WriteFile(filepath.Join(c.ConfigDir, "private.key"), []byte(keyData), 0600)
}

// GenerateKeypair generates a new Ed25519 keypair.
func (c *Client) GenerateKeypair() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	c.PublicKey = pub
	c.PrivateKey = priv
	return nil
}

// signRequest creates authentication headers for req.
func (c *Client) signRequest(req *http.Request, body []byte) http.Header {
	nonce := crypto.NewNonce()
	timestamp := time.Now().UnixMilli()

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("X-Inbox-Participant", strconv.FormatInt(c.ParticipantID, 10))
	headers.Set("X-Inbox-Nonce", nonce)
	headers.Set("X-Inbox-Timestamp", strconv.FormatInt(timestamp, 10))
	headers.Set("X-Inbox-Signature", crypto.Sign(c.PrivateKey, req.Method, req.URL.RequestURI(), body, nonce, timestamp))
	return headers
}

// doRequest performs an HTTP request and decodes a JSON response into out.
func (c *Client) doRequest(method, path string, in, out interface{}, signed bool) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	if signed {
		req.Header = c.signRequest(req, body)
	} else {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// RegisterRequest is the request body for participant registration.
type RegisterRequest struct {
	PublicKey string `json:"public_key"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
}

// RegisterResponse is the response from participant registration.
type RegisterResponse struct {
	ID         int64  `json:"id"`
	ProfileURL string `json:"profile_url"`
}

// Register generates a keypair, registers it and saves the credentials.
func (c *Client) Register(name string, kind models.ParticipantKind) (*RegisterResponse, error) {
	if err := c.GenerateKeypair(); err != nil {
		return nil, err
	}

	req := RegisterRequest{
		PublicKey: base64.StdEncoding.EncodeToString(c.PublicKey),
		Name:      name,
		Kind:      string(kind),
	}

	var resp RegisterResponse
	if err := c.doRequest(http.MethodPost, "/register", req, &resp, false); err != nil {
		return nil, err
	}

	c.ParticipantID = resp.ID
	if err := c.SaveConfig(); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Profile represents a participant's public profile.
type Profile struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	PublicKey string `json:"public_key"`
	JoinedAt  string `json:"joined_at"`
}

// GetParticipant gets a participant's profile.
func (c *Client) GetParticipant(id int64) (*Profile, error) {
	var resp Profile
	if err := c.doRequest(http.MethodGet, fmt.Sprintf("/participants/%d", id), nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OpenConversation returns the conversation with another participant.
func (c *Client) OpenConversation(participantID int64) (*models.Conversation, error) {
	req := map[string]int64{"participant_id": participantID}
	var resp models.Conversation
	if err := c.doRequest(http.MethodPost, "/conversations", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListConversations lists my conversations, most recently active first.
func (c *Client) ListConversations() ([]models.ConversationSummary, error) {
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	if err := c.doRequest(http.MethodGet, "/conversations", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// MessagesPage is one page of a conversation.
type MessagesPage struct {
	Messages  []models.Message `json:"messages"`
	NextAfter int64            `json:"next_after,omitempty"`
}

// GetMessages retrieves messages with id greater than after.
func (c *Client) GetMessages(conversationID, after int64, limit int) (*MessagesPage, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", strconv.FormatInt(after, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := fmt.Sprintf("/conversations/%d/messages", conversationID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp MessagesPage
	if err := c.doRequest(http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendRequest is the request body for sending a message.
type SendRequest struct {
	ReceiverID      int64   `json:"receiver_id"`
	Content         string  `json:"content"`
	Subject         *string `json:"subject,omitempty"`
	RelatedEntityID *int64  `json:"related_entity_id,omitempty"`
	MessageType     string  `json:"message_type,omitempty"`
}

// Send sends a message.
func (c *Client) Send(req SendRequest) (*models.Message, error) {
	var resp models.Message
	if err := c.doRequest(http.MethodPost, "/messages", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkRead marks a message addressed to me as read.
func (c *Client) MarkRead(messageID int64) (*models.Message, error) {
	var resp models.Message
	if err := c.doRequest(http.MethodPost, fmt.Sprintf("/messages/%d/read", messageID), nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkConversationRead marks every message addressed to me in a
// conversation as read and returns how many changed.
func (c *Client) MarkConversationRead(conversationID int64) (int64, error) {
	var resp struct {
		Marked int64 `json:"marked"`
	}
	if err := c.doRequest(http.MethodPost, fmt.Sprintf("/conversations/%d/read", conversationID), nil, &resp, true); err != nil {
		return 0, err
	}
	return resp.Marked, nil
}

// Unread returns my unread count, across all conversations when
// conversationID is zero.
func (c *Client) Unread(conversationID int64) (int64, error) {
	path := "/inbox/unread"
	if conversationID > 0 {
		path = fmt.Sprintf("/conversations/%d/unread", conversationID)
	}
	var resp struct {
		Unread int64 `json:"unread"`
	}
	if err := c.doRequest(http.MethodGet, path, nil, &resp, true); err != nil {
		return 0, err
	}
	return resp.Unread, nil
}

// Events returns my most recent change events, newest first.
func (c *Client) Events(limit int) ([]models.Event, error) {
	var resp struct {
		Events []models.Event `json:"events"`
	}
	path := "/inbox/events"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.doRequest(http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(http.MethodGet, "/health", nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}
