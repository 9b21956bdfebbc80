package entity

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// EventType classifies a ledger event. Unknown values are accepted.
type EventType string

const (
	EventPetCreated           EventType = "pet_created"
	EventBatchCreated         EventType = "batch_created"
	EventStatusChanged        EventType = "status_changed"
	EventReserved             EventType = "reserved"
	EventSold                 EventType = "sold"
	EventOrderCreated         EventType = "order_created"
	EventOrderUpdated         EventType = "order_updated"
	EventOrderSubmitted       EventType = "order_submitted"
	EventOrderReceived        EventType = "order_received"
	EventHandoverOTPGenerated EventType = "HANDOVER_OTP_GENERATED"
	EventHandoverCompleted    EventType = "HANDOVER_COMPLETED"
)

// Event is a typed domain event that can be recorded on the ledger
type Event interface {
	Type() EventType
	Payload() map[string]any
}

// PetCreated is emitted when a pet enters the shop inventory
type PetCreated struct {
	PetID     string  `mapstructure:"petId,omitempty"`
	PetCode   string  `mapstructure:"petCode,omitempty"`
	Name      string  `mapstructure:"name,omitempty"`
	Species   string  `mapstructure:"species,omitempty"`
	Breed     string  `mapstructure:"breed,omitempty"`
	BatchID   string  `mapstructure:"batchId,omitempty"`
	Price     float64 `mapstructure:"price,omitempty"`
	StoreID   string  `mapstructure:"storeId,omitempty"`
	CreatedBy string  `mapstructure:"createdBy,omitempty"`
}

func (e PetCreated) Type() EventType         { return EventPetCreated }
func (e PetCreated) Payload() map[string]any { return encodePayload(e) }

// BatchCreated is emitted when a stock batch is registered
type BatchCreated struct {
	BatchID   string   `mapstructure:"batchId,omitempty"`
	BatchCode string   `mapstructure:"batchCode,omitempty"`
	Species   string   `mapstructure:"species,omitempty"`
	Breed     string   `mapstructure:"breed,omitempty"`
	Quantity  int      `mapstructure:"quantity,omitempty"`
	PetCodes  []string `mapstructure:"petCodes,omitempty"`
	StoreID   string   `mapstructure:"storeId,omitempty"`
	CreatedBy string   `mapstructure:"createdBy,omitempty"`
}

func (e BatchCreated) Type() EventType         { return EventBatchCreated }
func (e BatchCreated) Payload() map[string]any { return encodePayload(e) }

// StatusChanged is emitted when a pet changes inventory status
type StatusChanged struct {
	PetID          string `mapstructure:"petId,omitempty"`
	PetCode        string `mapstructure:"petCode,omitempty"`
	PreviousStatus string `mapstructure:"previousStatus,omitempty"`
	NewStatus      string `mapstructure:"newStatus,omitempty"`
	Reason         string `mapstructure:"reason,omitempty"`
	ManagedBy      string `mapstructure:"managedBy,omitempty"`
}

func (e StatusChanged) Type() EventType         { return EventStatusChanged }
func (e StatusChanged) Payload() map[string]any { return encodePayload(e) }

// Reserved is emitted when a user reserves a pet
type Reserved struct {
	PetID         string  `mapstructure:"petId,omitempty"`
	PetCode       string  `mapstructure:"petCode,omitempty"`
	ReservationID string  `mapstructure:"reservationId,omitempty"`
	UserID        string  `mapstructure:"userId,omitempty"`
	Amount        float64 `mapstructure:"amount,omitempty"`
}

func (e Reserved) Type() EventType         { return EventReserved }
func (e Reserved) Payload() map[string]any { return encodePayload(e) }

// Sold is emitted when a reservation is paid
type Sold struct {
	PetID         string  `mapstructure:"petId,omitempty"`
	PetCode       string  `mapstructure:"petCode,omitempty"`
	ReservationID string  `mapstructure:"reservationId,omitempty"`
	UserID        string  `mapstructure:"userId,omitempty"`
	Price         float64 `mapstructure:"price,omitempty"`
	ManagedBy     string  `mapstructure:"managedBy,omitempty"`
}

func (e Sold) Type() EventType         { return EventSold }
func (e Sold) Payload() map[string]any { return encodePayload(e) }

// OrderCreated is emitted when a purchase order is drafted
type OrderCreated struct {
	OrderID     string  `mapstructure:"orderId,omitempty"`
	OrderNumber string  `mapstructure:"orderNumber,omitempty"`
	StoreID     string  `mapstructure:"storeId,omitempty"`
	Total       float64 `mapstructure:"total,omitempty"`
	CreatedBy   string  `mapstructure:"createdBy,omitempty"`
}

func (e OrderCreated) Type() EventType         { return EventOrderCreated }
func (e OrderCreated) Payload() map[string]any { return encodePayload(e) }

// OrderUpdated is emitted when a draft purchase order is edited
type OrderUpdated struct {
	OrderID      string   `mapstructure:"orderId,omitempty"`
	OrderNumber  string   `mapstructure:"orderNumber,omitempty"`
	UpdateFields []string `mapstructure:"updateFields,omitempty"`
	UpdatedBy    string   `mapstructure:"updatedBy,omitempty"`
}

func (e OrderUpdated) Type() EventType         { return EventOrderUpdated }
func (e OrderUpdated) Payload() map[string]any { return encodePayload(e) }

// OrderSubmitted is emitted when a purchase order is sent to the supplier
type OrderSubmitted struct {
	OrderID     string  `mapstructure:"orderId,omitempty"`
	OrderNumber string  `mapstructure:"orderNumber,omitempty"`
	Total       float64 `mapstructure:"total,omitempty"`
	SubmittedBy string  `mapstructure:"submittedBy,omitempty"`
}

func (e OrderSubmitted) Type() EventType         { return EventOrderSubmitted }
func (e OrderSubmitted) Payload() map[string]any { return encodePayload(e) }

// OrderReceived is emitted when ordered stock arrives
type OrderReceived struct {
	OrderID       string `mapstructure:"orderId,omitempty"`
	OrderNumber   string `mapstructure:"orderNumber,omitempty"`
	StoreID       string `mapstructure:"storeId,omitempty"`
	ReceivedCount int    `mapstructure:"receivedCount,omitempty"`
	ReceivedBy    string `mapstructure:"receivedBy,omitempty"`
}

func (e OrderReceived) Type() EventType         { return EventOrderReceived }
func (e OrderReceived) Payload() map[string]any { return encodePayload(e) }

// HandoverOTPGenerated is emitted when a pickup OTP is issued
type HandoverOTPGenerated struct {
	PetID         string `mapstructure:"petId,omitempty"`
	PetCode       string `mapstructure:"petCode,omitempty"`
	ReservationID string `mapstructure:"reservationId,omitempty"`
	UserID        string `mapstructure:"userId,omitempty"`
	GeneratedBy   string `mapstructure:"generatedBy,omitempty"`
}

func (e HandoverOTPGenerated) Type() EventType         { return EventHandoverOTPGenerated }
func (e HandoverOTPGenerated) Payload() map[string]any { return encodePayload(e) }

// HandoverCompleted is emitted when the pet is handed to its new owner
type HandoverCompleted struct {
	PetID          string `mapstructure:"petId,omitempty"`
	PetCode        string `mapstructure:"petCode,omitempty"`
	ReservationID  string `mapstructure:"reservationId,omitempty"`
	UserID         string `mapstructure:"userId,omitempty"`
	CompletedBy    string `mapstructure:"completedBy,omitempty"`
	Location       string `mapstructure:"location,omitempty"`
	PreviousStatus string `mapstructure:"previousStatus,omitempty"`
	NewStatus      string `mapstructure:"newStatus,omitempty"`
}

func (e HandoverCompleted) Type() EventType         { return EventHandoverCompleted }
func (e HandoverCompleted) Payload() map[string]any { return encodePayload(e) }

// GenericEvent carries event kinds this build does not know about
type GenericEvent struct {
	Kind EventType
	Data map[string]any
}

func (e GenericEvent) Type() EventType { return e.Kind }

func (e GenericEvent) Payload() map[string]any {
	if e.Data == nil {
		return map[string]any{}
	}
	return e.Data
}

// ParseEvent decodes a raw payload into the typed event for its kind.
// Unknown kinds are wrapped in a GenericEvent.
func ParseEvent(eventType EventType, data map[string]any) (Event, error) {
	var target Event
	switch eventType {
	case EventPetCreated:
		target = &PetCreated{}
	case EventBatchCreated:
		target = &BatchCreated{}
	case EventStatusChanged:
		target = &StatusChanged{}
	case EventReserved:
		target = &Reserved{}
	case EventSold:
		target = &Sold{}
	case EventOrderCreated:
		target = &OrderCreated{}
	case EventOrderUpdated:
		target = &OrderUpdated{}
	case EventOrderSubmitted:
		target = &OrderSubmitted{}
	case EventOrderReceived:
		target = &OrderReceived{}
	case EventHandoverOTPGenerated:
		target = &HandoverOTPGenerated{}
	case EventHandoverCompleted:
		target = &HandoverCompleted{}
	default:
		return GenericEvent{Kind: eventType, Data: data}, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(data); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", eventType, err)
	}
	return target, nil
}

func encodePayload(event any) map[string]any {
	out := map[string]any{}
	if err := mapstructure.Decode(event, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// EventMessage is the queued form of an emitted event
type EventMessage struct {
	EventID        string         `json:"eventId"`
	EventType      EventType      `json:"eventType"`
	EventData      map[string]any `json:"eventData"`
	DocumentHashes []string       `json:"documentHashes,omitempty"`
	Source         string         `json:"source,omitempty"`
	EmittedAt      time.Time      `json:"emittedAt"`
}
