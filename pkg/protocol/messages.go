package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType define os tipos de mensagens de controle
type MessageType string

const (
	HelloType MessageType = "HELLO"
)

// ControlMessage representa uma mensagem genérica de controle (UDP)
type ControlMessage struct {
	Type      MessageType     `json:"type"`
	SenderID  string          `json:"sender_id"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// HelloMessage anuncia a réplica e a porta HTTP onde recebe eventos
type HelloMessage struct {
	ReplicaID string `json:"replica_id"`
	HTTPPort  int    `json:"http_port"`
}

// CreateHelloMessage cria uma mensagem HELLO
func CreateHelloMessage(replicaID string, httpPort int) (ControlMessage, error) {
	data, err := json.Marshal(HelloMessage{ReplicaID: replicaID, HTTPPort: httpPort})
	if err != nil {
		return ControlMessage{}, err
	}
	return ControlMessage{
		Type:      HelloType,
		SenderID:  replicaID,
		Timestamp: getCurrentTimestamp(),
		Data:      data,
	}, nil
}

// DecodeControlMessage decodifica o envelope de controle recebido via UDP
func DecodeControlMessage(data []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ControlMessage{}, fmt.Errorf("invalid control message: %w", err)
	}
	if msg.Type == "" || msg.SenderID == "" {
		return ControlMessage{}, fmt.Errorf("invalid control message: missing type or sender")
	}
	return msg, nil
}

// ParseHelloMessage extrai dados de uma mensagem HELLO
func ParseHelloMessage(msg ControlMessage) (*HelloMessage, bool) {
	if msg.Type != HelloType || len(msg.Data) == 0 {
		return nil, false
	}

	var hello HelloMessage
	if err := json.Unmarshal(msg.Data, &hello); err != nil {
		return nil, false
	}
	if hello.ReplicaID == "" {
		hello.ReplicaID = msg.SenderID
	}
	if hello.HTTPPort <= 0 || hello.HTTPPort > 65535 {
		return nil, false
	}

	return &hello, true
}

// getCurrentTimestamp retorna timestamp atual em milissegundos
func getCurrentTimestamp() int64 {
	return time.Now().UnixMilli()
}
