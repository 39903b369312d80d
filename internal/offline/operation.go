// Package offline queues local mutations while the API is unreachable and
// replays them, then pulls fresh server state, once connectivity returns.
package offline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidOperation = errors.New("invalid operation")

type OperationType string

const (
	OpCreate OperationType = "CREATE"
	OpUpdate OperationType = "UPDATE"
	OpDelete OperationType = "DELETE"
)

func ParseOperationType(s string) (OperationType, error) {
	switch t := OperationType(strings.ToUpper(strings.TrimSpace(s))); t {
	case OpCreate, OpUpdate, OpDelete:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, s)
}

type Entity string

const (
	EntityCustomer      Entity = "customer"
	EntityLead          Entity = "lead"
	EntityProject       Entity = "project"
	EntityMessage       Entity = "message"
	EntityCommunication Entity = "communication"
)

var AllEntities = []Entity{EntityCustomer, EntityLead, EntityProject, EntityMessage, EntityCommunication}

var endpoints = map[Entity]string{
	EntityCustomer:      "/customers",
	EntityLead:          "/leads",
	EntityProject:       "/projects",
	EntityMessage:       "/messages",
	EntityCommunication: "/communications",
}

func ParseEntity(s string) (Entity, error) {
	e := Entity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := endpoints[e]; !ok {
		return "", fmt.Errorf("%w: unknown entity %q", ErrInvalidOperation, s)
	}
	return e, nil
}

// Endpoint is the collection path for the entity, relative to the API base URL.
func (e Entity) Endpoint() string {
	return endpoints[e]
}

// Operation is one queued mutation. RetryCount only ever grows.
type Operation struct {
	ID         string         `json:"id"`
	Type       OperationType  `json:"type"`
	Entity     Entity         `json:"entity"`
	Data       map[string]any `json:"data"`
	Timestamp  time.Time      `json:"timestamp"`
	RetryCount int            `json:"retryCount"`
	LastError  string         `json:"lastError,omitempty"`
}

// RecordID returns data["id"] as a string. JSON numbers are accepted.
func (o Operation) RecordID() (string, bool) {
	switch v := o.Data["id"].(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	}
	return "", false
}

func (o Operation) validate() error {
	if _, ok := endpoints[o.Entity]; !ok {
		return fmt.Errorf("%w: unknown entity %q", ErrInvalidOperation, o.Entity)
	}
	switch o.Type {
	case OpCreate:
	case OpUpdate, OpDelete:
		if _, ok := o.RecordID(); !ok {
			return fmt.Errorf("%w: %s requires data.id", ErrInvalidOperation, o.Type)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, o.Type)
	}
	return nil
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
