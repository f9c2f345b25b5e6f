package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionCapPerIP(t *testing.T) {
	l := New(2, 5)

	assert.True(t, l.CanConnect("1.2.3.4"))
	l.AddConnection("1.2.3.4")
	assert.True(t, l.CanConnect("1.2.3.4"))
	l.AddConnection("1.2.3.4")
	assert.False(t, l.CanConnect("1.2.3.4"))

	// Other IPs are independent.
	assert.True(t, l.CanConnect("5.6.7.8"))

	l.RemoveConnection("1.2.3.4")
	assert.True(t, l.CanConnect("1.2.3.4"))
}

func TestAuthBurstThenDeny(t *testing.T) {
	l := New(10, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowAuth("1.2.3.4"), "attempt %d within burst", i)
	}
	assert.False(t, l.AllowAuth("1.2.3.4"))
	assert.True(t, l.AllowAuth("9.9.9.9"), "other IPs unaffected")
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", GetClientIP(r))

	r.Header.Set("X-Real-IP", "20.0.0.2")
	assert.Equal(t, "20.0.0.2", GetClientIP(r))

	r.Header.Set("X-Forwarded-For", "30.0.0.3, 40.0.0.4")
	assert.Equal(t, "30.0.0.3", GetClientIP(r))
}
