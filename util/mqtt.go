package util

import (
	"fmt"
	"sync"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

var Client MQTT.Client

var (
	mqttMu          sync.Mutex
	subscriptions   map[string]MQTT.MessageHandler
	connectHandlers map[string]func(MQTT.Client)
)

func OnlineTopic() string {
	return Config.GetString("base_topic") + "/online"
}

var connectHandler MQTT.OnConnectHandler = func(client MQTT.Client) {
	Logger.Info().Msg("Connected")
	subscribe(client)
	client.Publish(OnlineTopic(), 0, true, "online").Wait()
	mqttMu.Lock()
	handlers := make([]func(MQTT.Client), 0, len(connectHandlers))
	for _, handler := range connectHandlers {
		handlers = append(handlers, handler)
	}
	mqttMu.Unlock()
	for _, handler := range handlers {
		handler(client)
	}
}

func RegisterMQTTConnectHook(name string, handler func(MQTT.Client)) {
	mqttMu.Lock()
	defer mqttMu.Unlock()
	if connectHandlers == nil {
		connectHandlers = make(map[string]func(client MQTT.Client))
	}
	if handler == nil {
		delete(connectHandlers, name)
	} else {
		connectHandlers[name] = handler
	}
}

func subscribe(client MQTT.Client) {
	mqttMu.Lock()
	subs := make(map[string]MQTT.MessageHandler, len(subscriptions))
	for topic, handler := range subscriptions {
		subs[topic] = handler
	}
	mqttMu.Unlock()
	for topic, handler := range subs {
		if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			Logger.Error().Msgf("Error Subscribing to %s: %v", topic, token.Error())
		}
	}
}

// RegisterMQTTSubscription records a handler for topic. The subscription is
// made on every (re)connect; a nil handler removes it.
func RegisterMQTTSubscription(topic string, handler MQTT.MessageHandler) {
	mqttMu.Lock()
	defer mqttMu.Unlock()
	if subscriptions == nil {
		subscriptions = make(map[string]MQTT.MessageHandler)
	}
	if handler == nil {
		delete(subscriptions, topic)
	} else {
		subscriptions[topic] = handler
	}
}

func receiver(client MQTT.Client, message MQTT.Message) {
	Logger.Warn().Msgf("Received message on %v but no handler", message.Topic())
}

var connectLostHandler MQTT.ConnectionLostHandler = func(client MQTT.Client, err error) {
	Logger.Info().Msgf("Connect lost: %v", err)
}

func clientID() string {
	return Config.GetString("id_base") + "_" + uuid.New().String()[:8]
}

func MqttInit() error {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(Config.GetString("broker_uri"))
	opts.SetClientID(clientID())
	opts.SetUsername(Config.GetString("username"))
	opts.SetPassword(Config.GetString("password"))
	opts.SetCleanSession(Config.GetBool("cleansess"))
	opts.SetAutoReconnect(true)
	opts.SetWill(OnlineTopic(), "offline", 0, true)
	opts.OnConnectionLost = connectLostHandler
	opts.OnConnect = connectHandler
	opts.SetDefaultPublishHandler(receiver)

	if Client != nil {
		Logger.Debug().Msg("Client exists - destroying")
		if Client.IsConnected() {
			Client.Disconnect(1000)
		}
		Client = nil
	}

	Client = MQTT.NewClient(opts)

	if token := Client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connecting to %s: %w", Config.GetString("broker_uri"), token.Error())
	}
	return nil
}
