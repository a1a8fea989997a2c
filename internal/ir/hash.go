package ir

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainRecord       = "voltchain/record/v1"
	DomainNotification = "voltchain/notification/v1"
)

// Address is the deterministic location of a record: hex SHA-256 of its seed.
type Address string

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Seed derives a record address from a namespace, a kind and discriminators.
// Every component is length-prefixed, so ("ab","c") and ("a","bc") can never
// collide, and neither can two kinds sharing discriminator bytes.
func Seed(namespace string, kind Kind, parts ...[]byte) Address {
	var data []byte
	data = appendComponent(data, []byte(namespace))
	data = appendComponent(data, []byte(kind))
	for _, p := range parts {
		data = appendComponent(data, p)
	}
	return Address(hashWithDomain(DomainRecord, data))
}

func appendComponent(dst, c []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(c)))
	return append(dst, c...)
}

// U64LE encodes a sequence number the way sale and claim seeds expect it.
func U64LE(n uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, n)
}

// PoolAddress returns the fixed address of a namespace's pool.
func PoolAddress(namespace string) Address {
	return Seed(namespace, KindPool)
}

// PositionAddress returns the address of owner's UserPosition.
func PositionAddress(namespace string, owner Identity) Address {
	return Seed(namespace, KindUserPosition, []byte(owner))
}

// SaleAddress returns the address of the sale with the given id.
func SaleAddress(namespace string, saleID uint64) Address {
	return Seed(namespace, KindSale, U64LE(saleID))
}

// ClaimAddress returns the address of user's claim against saleID.
// The composite seed is what makes a second claim for the pair impossible.
func ClaimAddress(namespace string, user Identity, saleID uint64) Address {
	return Seed(namespace, KindUserClaim, []byte(user), U64LE(saleID))
}

// NotificationID computes the content-addressed ID of a notification.
// The ID covers sequence, transition, event name, caller and payload.
func NotificationID(n Notification) (string, error) {
	canonical, err := MarshalCanonical(n.hashObject())
	if err != nil {
		return "", fmt.Errorf("NotificationID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainNotification, canonical), nil
}
