/*
 * This file is part of the gauge-mate distribution (https://github.com/mlipscombe/gauge-mate).
 * Copyright (c) 2021 Mark Lipscombe.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, version 3.
 *
 * This program is distributed in the hope that it will be useful, but
 * WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU
 * General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program. If not, see <http://www.gnu.org/licenses/>.
 */

package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Client publishes gauge state below Prefix and dispatches set commands
// received below it.
type Client struct {
	URI           *url.URL
	ClientID      string
	Prefix        string
	connection    mqtt.Client
	subscriptions map[string]subscriptionInfo
	subMutex      sync.RWMutex
}

type subscriptionInfo struct {
	qos      byte
	callback MessageHandler
}

type Message mqtt.Message

type MessageHandler func(client *Client, message Message)

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// NewClient connects to the broker. The availability topic carries a
// retained "online", with "offline" registered as the last will.
func NewClient(uri *url.URL, clientID string, prefix string) (*Client, error) {
	client := Client{
		URI:           uri,
		ClientID:      clientID,
		Prefix:        prefix,
		subscriptions: make(map[string]subscriptionInfo),
	}
	opts := createClientOptions(&client)

	opts.SetWill(client.StatusTopic(), statusOffline, 1, true)
	if err := client.connect(opts); err != nil {
		return &client, err
	}

	client.connection.Publish(client.StatusTopic(), 1, true, statusOnline)

	return &client, nil
}

// StatusTopic is the retained availability topic of the gauge.
func (client *Client) StatusTopic() string {
	return fmt.Sprintf("%s/device/status", client.Prefix)
}

// Topic joins a path below the client prefix.
func (client *Client) Topic(path ...string) string {
	return strings.Join(append([]string{client.Prefix}, path...), "/")
}

// Close marks the gauge offline and disconnects from the broker.
func (client *Client) Close() {
	if client.connection == nil {
		return
	}
	token := client.connection.Publish(client.StatusTopic(), 1, true, statusOffline)
	token.WaitTimeout(2 * time.Second)
	client.connection.Disconnect(250)
}

func (client *Client) connect(opts *mqtt.ClientOptions) error {
	client.connection = mqtt.NewClient(opts)
	token := client.connection.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	return nil
}

// PublishMany publishes each value to <prefix>/<topic>/<key>.
func (client *Client) PublishMany(topic string, values map[string]interface{}) error {
	for key, val := range values {
		err := client.PublishRaw(client.Topic(topic, key), val)
		if err != nil {
			return err
		}
	}
	return nil
}

// PublishRaw publishes strings and byte slices as-is, numbers in plain
// decimal and anything else as JSON.
func (client *Client) PublishRaw(topic string, val interface{}) error {
	var payload []byte
	switch p := val.(type) {
	case string:
		payload = []byte(p)
	case []byte:
		payload = p
	case fmt.Stringer:
		payload = []byte(p.String())
	case float64:
		payload = []byte(strconv.FormatFloat(p, 'g', -1, 64))
	default:
		jsonVal, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("marshalling %s: %v", topic, val)
		}
		payload = jsonVal
	}

	token := client.connection.Publish(topic, 0, true, payload)
	go func() {
		<-token.Done()
		if token.Error() != nil {
			log.Error(token.Error())
		}
	}()

	return nil
}

func (client *Client) PublishJSON(topic string, val interface{}) error {
	jsonVal, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("marshalling %s: %v", topic, val)
	}
	token := client.connection.Publish(topic, 0, true, jsonVal)
	go func() {
		<-token.Done()
		if token.Error() != nil {
			log.Error(token.Error())
		}
	}()

	return nil
}

// Subscribe registers callback for a topic below the prefix. The
// subscription is restored after a reconnect.
func (client *Client) Subscribe(topic string, qos byte, callback MessageHandler) error {
	fullTopic := client.Topic(topic)

	client.subMutex.Lock()
	client.subscriptions[fullTopic] = subscriptionInfo{
		qos:      qos,
		callback: callback,
	}
	client.subMutex.Unlock()

	token := client.connection.Subscribe(fullTopic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		callback(client, msg)
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	return nil
}

func createClientOptions(client *Client) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()

	port := client.URI.Port()
	if port == "" {
		if client.URI.Scheme == "mqtts" {
			port = "8883"
		} else {
			port = "1883"
		}
	}

	if client.URI.Scheme == "mqtts" {
		query := client.URI.Query()
		tlsCert := query.Get("tls_cert")
		tlsKey := query.Get("tls_key")
		caCert := query.Get("tls_cacert")
		insecure := query.Get("insecure")

		tlsConfig := &tls.Config{}

		if insecure == "true" {
			tlsConfig.InsecureSkipVerify = true
		}

		if tlsCert != "" && tlsKey != "" {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				log.Fatalf("failed to load tls cert and key: %v", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		if caCert != "" {
			caCertPool := x509.NewCertPool()
			caCertData, err := os.ReadFile(caCert)
			if err != nil {
				log.Fatalf("failed to read ca cert: %v", err)
			}
			caCertPool.AppendCertsFromPEM(caCertData)
			tlsConfig.RootCAs = caCertPool
		}

		opts.SetTLSConfig(tlsConfig)
		opts.AddBroker(fmt.Sprintf("ssl://%s:%s", client.URI.Hostname(), port))
	} else {
		opts.AddBroker(fmt.Sprintf("tcp://%s:%s", client.URI.Hostname(), port))
	}

	opts.SetUsername(client.URI.User.Username())
	password, _ := client.URI.User.Password()
	opts.SetPassword(password)
	opts.SetClientID(client.ClientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Errorf("mqtt connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		log.Warn("mqtt reconnecting")
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Info("mqtt connected")

		client.connection.Publish(client.StatusTopic(), 1, true, statusOnline)

		client.subMutex.RLock()
		defer client.subMutex.RUnlock()

		for fullTopic, sub := range client.subscriptions {
			subInfo := sub
			token := client.connection.Subscribe(fullTopic, subInfo.qos, func(_ mqtt.Client, msg mqtt.Message) {
				subInfo.callback(client, msg)
			})
			token.Wait()
			if err := token.Error(); err != nil {
				log.Errorf("failed to resubscribe to %s: %v", fullTopic, err)
			} else {
				log.Infof("resubscribed to %s", fullTopic)
			}
		}
	})

	return opts
}
