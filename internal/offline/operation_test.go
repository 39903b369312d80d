package offline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperationTypeAndEntity(t *testing.T) {
	typ, err := ParseOperationType("update")
	require.NoError(t, err)
	assert.Equal(t, OpUpdate, typ)

	_, err = ParseOperationType("PATCH")
	assert.ErrorIs(t, err, ErrInvalidOperation)

	e, err := ParseEntity("Lead")
	require.NoError(t, err)
	assert.Equal(t, EntityLead, e)
	assert.Equal(t, "/leads", e.Endpoint())

	_, err = ParseEntity("invoice")
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestEndpointsCoverAllEntities(t *testing.T) {
	want := map[Entity]string{
		EntityCustomer:      "/customers",
		EntityLead:          "/leads",
		EntityProject:       "/projects",
		EntityMessage:       "/messages",
		EntityCommunication: "/communications",
	}
	for _, e := range AllEntities {
		assert.Equal(t, want[e], e.Endpoint())
	}
	assert.Len(t, AllEntities, len(want))
}

func TestOperationRecordID(t *testing.T) {
	tests := []struct {
		data map[string]any
		id   string
		ok   bool
	}{
		{map[string]any{"id": "c-1"}, "c-1", true},
		{map[string]any{"id": float64(42)}, "42", true},
		{map[string]any{"id": 7}, "7", true},
		{map[string]any{"id": ""}, "", false},
		{map[string]any{"name": "x"}, "", false},
		{nil, "", false},
	}
	for _, tt := range tests {
		id, ok := Operation{Data: tt.data}.RecordID()
		assert.Equal(t, tt.ok, ok)
		assert.Equal(t, tt.id, id)
	}
}

func TestOperationValidate(t *testing.T) {
	assert.NoError(t, Operation{Type: OpCreate, Entity: EntityLead, Data: map[string]any{}}.validate())
	assert.NoError(t, Operation{Type: OpDelete, Entity: EntityLead, Data: map[string]any{"id": "l-1"}}.validate())
	assert.ErrorIs(t, Operation{Type: OpUpdate, Entity: EntityLead, Data: map[string]any{}}.validate(), ErrInvalidOperation)
	assert.ErrorIs(t, Operation{Type: OpCreate, Entity: "invoice"}.validate(), ErrInvalidOperation)
	assert.ErrorIs(t, Operation{Type: "UPSERT", Entity: EntityLead}.validate(), ErrInvalidOperation)
}
