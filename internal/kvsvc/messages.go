// Package kvsvc exposes a kv.Store as a service on the typed transport so
// that other processes, local or remote, can read and change cluster state.
package kvsvc

import "github.com/MichaAI/multidustry/pkg/transport"

// ServiceID is the well-known id the kv service registers under.
var ServiceID = transport.ServiceIDFromName("multidustry.kv")

type Op string

const (
	OpGet    Op = "get"
	OpPut    Op = "put"
	OpDelete Op = "delete"
	OpList   Op = "list"
	OpPing   Op = "ping"
)

type Request struct {
	Op     Op     `cbor:"op"`
	Key    string `cbor:"key,omitempty"`
	Value  []byte `cbor:"value,omitempty"`
	Prefix string `cbor:"prefix,omitempty"`
}

func (Request) TypeIdentity() string { return "multidustry.kv.Request/v1" }

type Response struct {
	OK    bool     `cbor:"ok"`
	Found bool     `cbor:"found,omitempty"`
	Value []byte   `cbor:"value,omitempty"`
	Keys  []string `cbor:"keys,omitempty"`
	Error string   `cbor:"error,omitempty"`
}

func (Response) TypeIdentity() string { return "multidustry.kv.Response/v1" }
