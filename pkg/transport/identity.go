package transport

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// Message is implemented by every value carried over a connection.
// TypeIdentity must return a constant that is stable across builds and
// unique per type. Messages are value types: IdentityOf evaluates the method
// on the zero value.
type Message interface {
	TypeIdentity() string
}

// IdentityOf returns the type identity of T.
func IdentityOf[T Message]() string {
	var zero T
	return zero.TypeIdentity()
}

// ServiceID names a service independent of its message types.
type ServiceID = uuid.UUID

// serviceNamespace seeds ServiceIDFromName.
var serviceNamespace = uuid.MustParse("5b0e9a3c-5f0e-4c3e-9d0a-6d7573747279")

// ServiceIDFromName derives a stable ServiceID from a human readable name.
func ServiceIDFromName(name string) ServiceID {
	return uuid.NewSHA1(serviceNamespace, []byte(name))
}

// Key identifies one registered service signature.
type Key struct {
	Service  ServiceID
	Request  string
	Response string
}

// KeyOf builds the registry key for a Req/Res pair.
func KeyOf[Req, Res Message](service ServiceID) Key {
	return Key{Service: service, Request: IdentityOf[Req](), Response: IdentityOf[Res]()}
}

func (k Key) String() string {
	return fmt.Sprintf("%s(%s -> %s)", k.Service, k.Request, k.Response)
}

// Digest is a short BLAKE3 fingerprint of the key, used to correlate the two
// sides of a connection in logs.
func (k Key) Digest() string {
	h := blake3.New()
	h.Write(k.Service[:])
	h.Write([]byte{0})
	h.Write([]byte(k.Request))
	h.Write([]byte{0})
	h.Write([]byte(k.Response))
	return hex.EncodeToString(h.Sum(nil)[:8])
}
