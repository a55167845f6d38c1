package emby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/watchparty/backend/internal/party"
)

type embyUser struct {
	ID              string `json:"Id"`
	Name            string `json:"Name"`
	PrimaryImageTag string `json:"PrimaryImageTag"`
}

type embyItem struct {
	ID           string `json:"Id"`
	Name         string `json:"Name"`
	RunTimeTicks int64  `json:"RunTimeTicks"`
}

func (i embyItem) toItem() party.Item {
	return party.Item{ID: i.ID, Name: i.Name, RunTimeTicks: i.RunTimeTicks}
}

// GetUser looks up a user.
func (c *Client) GetUser(ctx context.Context, userID string) (*party.User, error) {
	data, err := c.do(ctx, http.MethodGet, "/Users/"+url.PathEscape(userID), nil, nil, "")
	if err != nil {
		return nil, err
	}
	var u embyUser
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("parse user: %w", err)
	}
	return &party.User{ID: u.ID, Name: u.Name, HasPicture: u.PrimaryImageTag != ""}, nil
}

// GetItem looks up a library item.
func (c *Client) GetItem(ctx context.Context, itemID string) (*party.Item, error) {
	q := url.Values{}
	q.Set("Ids", itemID)
	q.Set("Recursive", "true")
	data, err := c.do(ctx, http.MethodGet, "/Items", q, nil, "")
	if err != nil {
		return nil, err
	}
	var res struct {
		Items []embyItem `json:"Items"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse items: %w", err)
	}
	if len(res.Items) == 0 {
		return nil, ErrNotFound
	}
	item := res.Items[0].toItem()
	return &item, nil
}

// IsItemVisible reports whether userID can see itemID in its library.
func (c *Client) IsItemVisible(ctx context.Context, userID, itemID string) (bool, error) {
	_, err := c.do(ctx, http.MethodGet, "/Users/"+url.PathEscape(userID)+"/Items/"+url.PathEscape(itemID), nil, nil, "")
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
