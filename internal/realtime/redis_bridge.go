package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/watchparty/backend/internal/party"
)

const (
	defaultBridgePrefix = "watchparty:"
	publishTimeout      = 5 * time.Second
)

// Inbound and outbound bridge message types.
const (
	BridgeChat         = "Chat"
	BridgePartyCheck   = "PartyCheck"
	BridgePartyExists  = "PartyExists"
	BridgePartyMissing = "PartyMissing"
)

// BridgeMessage is the envelope on both bridge channels.
type BridgeMessage struct {
	MessageType string          `json:"MessageType"`
	Party       string          `json:"Party"`
	Data        json.RawMessage `json:"Data,omitempty"`
	At          int64           `json:"At"`
}

type externalChat struct {
	Name      string `json:"Name"`
	AvatarURL string `json:"AvatarUrl"`
	Message   string `json:"Message"`
}

// BridgeHandler is the part of the party manager the bridge feeds.
type BridgeHandler interface {
	ExternalChat(partyName, name, avatarURL, message string) bool
	PartyExists(name string) bool
}

// RedisBridge mirrors party commands to `<prefix>out` and accepts chat from
// external applications on `<prefix>in`.
type RedisBridge struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisBridge creates a Redis pub/sub bridge for party events.
func NewRedisBridge(client *redis.Client, prefix string, logger *zap.Logger) *RedisBridge {
	if prefix == "" {
		prefix = defaultBridgePrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{client: client, prefix: prefix, logger: logger}
}

func (r *RedisBridge) inChannel() string  { return r.prefix + "in" }
func (r *RedisBridge) outChannel() string { return r.prefix + "out" }

// PublishPartyEvent publishes a party command to the outbound channel.
func (r *RedisBridge) PublishPartyEvent(ctx context.Context, messageType, partyName string, cmd party.Command) error {
	var data []byte
	if cmd != nil {
		var err error
		data, err = json.Marshal(GeneralCommand{Name: cmd.CommandName(), Arguments: cmd.Arguments()})
		if err != nil {
			return fmt.Errorf("encode command: %w", err)
		}
	}
	return r.publish(ctx, BridgeMessage{MessageType: messageType, Party: partyName, Data: data})
}

func (r *RedisBridge) publish(ctx context.Context, msg BridgeMessage) error {
	msg.At = time.Now().Unix()
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, r.outChannel(), body).Err()
}

// Listen consumes the inbound channel until ctx is cancelled.
func (r *RedisBridge) Listen(ctx context.Context, handler BridgeHandler) error {
	pubsub := r.client.Subscribe(ctx, r.inChannel())
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe: %w", err)
	}
	r.logger.Info("party bridge listening", zap.String("channel", r.inChannel()))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			reply := handleBridgeMessage(handler, []byte(msg.Payload), r.logger)
			if reply == nil {
				continue
			}
			if err := r.publish(ctx, *reply); err != nil {
				r.logger.Warn("bridge reply failed", zap.String("party", reply.Party), zap.Error(err))
			}
		}
	}
}

// handleBridgeMessage applies one inbound message and returns the reply to
// publish, if any.
func handleBridgeMessage(handler BridgeHandler, payload []byte, logger *zap.Logger) *BridgeMessage {
	var in BridgeMessage
	if err := json.Unmarshal(payload, &in); err != nil {
		logger.Debug("malformed bridge message", zap.Error(err))
		return nil
	}
	switch in.MessageType {
	case BridgeChat:
		var chat externalChat
		if err := json.Unmarshal(in.Data, &chat); err != nil {
			logger.Debug("malformed bridge chat", zap.String("party", in.Party), zap.Error(err))
			return nil
		}
		if !handler.ExternalChat(in.Party, chat.Name, chat.AvatarURL, chat.Message) && !handler.PartyExists(in.Party) {
			return &BridgeMessage{MessageType: BridgePartyMissing, Party: in.Party}
		}
		return nil
	case BridgePartyCheck:
		if handler.PartyExists(in.Party) {
			return &BridgeMessage{MessageType: BridgePartyExists, Party: in.Party}
		}
		return &BridgeMessage{MessageType: BridgePartyMissing, Party: in.Party}
	default:
		logger.Debug("ignoring bridge message", zap.String("type", in.MessageType))
		return nil
	}
}
