package id

import "github.com/google/uuid"

// UUIDGenerator issues v4 UUIDs for order and payment record identities.
type UUIDGenerator struct{}

func NewUUIDGenerator() UUIDGenerator { return UUIDGenerator{} }

func (UUIDGenerator) NewID() string { return uuid.NewString() }
