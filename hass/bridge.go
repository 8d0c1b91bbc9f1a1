package hass

import (
	"context"
	"strings"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/elijahnyp/home_bridge/runner"
	"github.com/elijahnyp/home_bridge/state"
	"github.com/elijahnyp/home_bridge/util"
)

// Bridge mirrors the registry onto MQTT.
type Bridge struct {
	registry *state.Registry
	executor runner.Executor
	// Client returns the connection to publish on; util.Client by default.
	Client func() MQTT.Client

	mu         sync.Mutex
	topics     Topics
	ctx        context.Context
	advertised map[string]string // entity id -> advertised config
}

func NewBridge(registry *state.Registry, executor runner.Executor) *Bridge {
	return &Bridge{
		registry:   registry,
		executor:   executor,
		Client:     func() MQTT.Client { return util.Client },
		topics:     TopicsFromConfig(),
		ctx:        context.Background(),
		advertised: make(map[string]string),
	}
}

func (b *Bridge) Topics() Topics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topics
}

// Register hooks the bridge into the registry and the MQTT client. Call it
// before MqttInit so the first connect advertises.
func (b *Bridge) Register() {
	b.registry.OnChange(b.OnChange)
	util.RegisterMQTTConnectHook("hass", b.onConnect)
	util.RegisterMQTTSubscription(b.Topics().CommandFilter(), b.HandleCommand)
}

// Reload picks up topic changes from the config. Old discovery entries are
// left to expire with the old node.
func (b *Bridge) Reload() {
	topics := TopicsFromConfig()
	b.mu.Lock()
	old := b.topics
	b.topics = topics
	b.advertised = make(map[string]string)
	b.mu.Unlock()
	if old.CommandFilter() != topics.CommandFilter() {
		util.RegisterMQTTSubscription(old.CommandFilter(), nil)
		util.RegisterMQTTSubscription(topics.CommandFilter(), b.HandleCommand)
	}
}

func (b *Bridge) client() MQTT.Client {
	client := b.Client()
	if client == nil || !client.IsConnected() {
		return nil
	}
	return client
}

func publish(client MQTT.Client, topic string, retained bool, payload string) {
	if token := client.Publish(topic, 0, retained, payload); token.Wait() && token.Error() != nil {
		util.Logger.Error().Msgf("Error Publishing to %s: %v", topic, token.Error())
	}
}

func (b *Bridge) onConnect(client MQTT.Client) {
	b.mu.Lock()
	b.advertised = make(map[string]string)
	b.mu.Unlock()
	b.AdvertiseAll(client)
}

// AdvertiseAll publishes discovery and current state of every entity.
func (b *Bridge) AdvertiseAll(client MQTT.Client) {
	for _, e := range b.registry.All() {
		snap, ok := b.registry.Published(e.Info().EntityID())
		if !ok {
			snap = e.Snapshot()
		}
		b.advertise(client, e.Info(), snap)
		b.publishState(client, e.Info(), snap)
	}
}

func (b *Bridge) advertisement(info state.Info, snap state.Snapshot) string {
	ha := b.Topics().ConstructAdvertisement(info)
	if snap.Icon != "" {
		ha.Icon = snap.Icon
	}
	return ha.ToJson()
}

func (b *Bridge) advertise(client MQTT.Client, info state.Info, snap state.Snapshot) {
	config := b.advertisement(info, snap)
	publish(client, b.Topics().Config(info), true, config)
	b.mu.Lock()
	b.advertised[info.EntityID()] = config
	b.mu.Unlock()
}

func (b *Bridge) publishState(client MQTT.Client, info state.Info, snap state.Snapshot) {
	topics := b.Topics()
	publish(client, topics.Availability(info), true, AvailabilityPayload(snap))
	publish(client, topics.State(info), true, StatePayload(info, snap))
}

// OnChange is the registry listener.
func (b *Bridge) OnChange(c state.Change) {
	client := b.client()
	if client == nil {
		return
	}
	info := c.Entity.Info()
	id := info.EntityID()
	if c.Removed {
		b.mu.Lock()
		delete(b.advertised, id)
		b.mu.Unlock()
		// an empty retained config removes the entity from Home Assistant
		publish(client, b.Topics().Config(info), true, "")
		return
	}

	// new entity, renamed or a changed icon
	b.mu.Lock()
	config, seen := b.advertised[id]
	b.mu.Unlock()
	if !seen || config != b.advertisement(info, c.Snapshot) {
		b.advertise(client, info, c.Snapshot)
	}
	b.publishState(client, info, c.Snapshot)
}

// HandleCommand toggles the switch named by a command topic.
func (b *Bridge) HandleCommand(client MQTT.Client, message MQTT.Message) {
	topics := b.Topics()
	rest, ok := strings.CutPrefix(message.Topic(), topics.Base+"/"+state.PlatformSwitch+"/")
	objectID, ok2 := strings.CutSuffix(rest, "/set")
	if !ok || !ok2 || objectID == "" || strings.Contains(objectID, "/") {
		util.Logger.Warn().Msgf("Received message on %v but no handler", message.Topic())
		return
	}
	var on bool
	switch strings.ToUpper(strings.TrimSpace(string(message.Payload()))) {
	case PayloadOn:
		on = true
	case PayloadOff:
		on = false
	default:
		util.Logger.Warn().Msgf("Unknown payload %q on %s", message.Payload(), message.Topic())
		return
	}

	id := state.PlatformSwitch + "." + objectID
	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	err := b.executor.Execute(ctx, func(ctx context.Context) {
		if err := b.registry.Toggle(ctx, id, on); err != nil {
			util.Logger.Error().Msgf("Error switching %s: %v", id, err)
		}
	})
	if err != nil {
		util.Logger.Warn().Msgf("Dropped command for %s: %v", id, err)
	}
}

// Run re-advertises every interval until ctx ends. Commands received while
// running are bound to ctx.
func (b *Bridge) Run(ctx context.Context, interval time.Duration) {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if client := b.client(); client != nil {
				util.Logger.Debug().Msg("Advertising Home Assistant discovery messages")
				b.AdvertiseAll(client)
			}
		}
	}
}
