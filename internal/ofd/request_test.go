package ofd

import (
	"encoding/json"
	"errors"
	"testing"

	"fiscal/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequestMapsEveryCommandType(t *testing.T) {
	want := map[domain.CommandType]string{
		domain.CommandTicket:         "COMMAND_TICKET",
		domain.CommandMoneyPlacement: "COMMAND_MONEY_PLACEMENT",
		domain.CommandReportX:        "COMMAND_REPORT",
		domain.CommandCloseShift:     "COMMAND_CLOSE_SHIFT",
	}
	docID := uuid.New()
	for typ, wire := range want {
		req, err := BuildRequest("svc-1", Command{Type: typ, Token: "tok", ReqNum: 7, DocumentID: docID})
		require.NoError(t, err, typ)
		assert.Equal(t, wire, req.Command)
		assert.Equal(t, "svc-1", req.ServiceID)
		assert.Equal(t, "tok", req.Token)
		assert.Equal(t, 7, req.ReqNum)
		assert.Equal(t, docID.String(), req.DocID)
	}
}

func TestBuildRequestRejectsUnknownType(t *testing.T) {
	_, err := BuildRequest("svc", Command{Type: "REFUND_ALL", Token: "tok"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownCommand))
}

func TestBuildRequestRequiresToken(t *testing.T) {
	_, err := BuildRequest("svc", Command{Type: domain.CommandTicket})
	assert.ErrorIs(t, err, domain.ErrMissingToken)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestJSONCodec(t *testing.T) {
	c := JSONCodec{}
	b, err := c.Encode(Request{Command: wireTicket, Token: "t", ReqNum: 1, Payload: json.RawMessage(`{"a":1}`)})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"command":"COMMAND_TICKET"`)

	env, err := c.Decode([]byte(`{"resultCode":0,"token":"next","reqNum":2,"fiscalSign":"FS1"}`))
	require.NoError(t, err)
	require.NotNil(t, env.ResultCode)
	assert.Equal(t, 0, *env.ResultCode)
	assert.Equal(t, "next", env.Token)
	assert.Equal(t, "FS1", env.FiscalSign)

	env, err = c.Decode([]byte(`{"token":"x"}`))
	require.NoError(t, err)
	assert.Nil(t, env.ResultCode)

	_, err = c.Decode(nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
