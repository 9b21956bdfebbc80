package secondary

import (
	"errors"
	"testing"
	"time"

	"petshop-provenance-ledger/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestFieldFilter(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		value    string
		expected bson.M
	}{
		{
			name:  "denormalized field",
			field: "petCode",
			value: "PET-1",
			expected: bson.M{"$or": bson.A{
				bson.M{"eventData.petCode": "PET-1"},
				bson.M{"petCode": "PET-1"},
			}},
		},
		{
			name:  "payload field",
			field: "orderNumber",
			value: "PO-7",
			expected: bson.M{"$or": bson.A{
				bson.M{"eventData.orderNumber": "PO-7"},
			}},
		},
		{
			name:  "numeric payload field",
			field: "receivedCount",
			value: "4",
			expected: bson.M{"$or": bson.A{
				bson.M{"eventData.receivedCount": "4"},
				bson.M{"eventData.receivedCount": 4.0},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, fieldFilter(tt.field, tt.value))
		})
	}
}

func TestNormalizeRecord(t *testing.T) {
	oid := primitive.NewObjectID()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	record := &entity.LedgerRecord{
		EventData: map[string]any{
			"items": primitive.A{primitive.D{{Key: "qty", Value: int32(2)}}},
			"meta":  primitive.M{"count": int64(3)},
			"big":   int64(9007199254740993),
			"ref":   oid,
			"at":    primitive.NewDateTimeFromTime(at),
			"name":  "Rex",
		},
	}
	normalizeRecord(record)

	assert.Equal(t, map[string]any{
		"items": []any{map[string]any{"qty": int64(2)}},
		"meta":  map[string]any{"count": int64(3)},
		"ref":   oid.Hex(),
		"at":    "2024-05-01T10:00:00Z",
		"name":  "Rex",
		"big":   int64(9007199254740993),
	}, record.EventData)

	empty := &entity.LedgerRecord{}
	normalizeRecord(empty)
	assert.Equal(t, map[string]any{}, empty.EventData)
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, isConnectionError(errors.New("server selection error: context deadline exceeded")))
	assert.True(t, isConnectionError(errors.New("write: broken pipe")))
	assert.False(t, isConnectionError(errors.New("E11000 duplicate key error")))
	assert.False(t, isConnectionError(nil))
}
