package game

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strings"
)

// Outcome is the round's cryptographic commitment. HashedServerSeed is
// published at round start; ServerSeed and FinalMultiplier stay hidden
// until the round ends.
type Outcome struct {
	ServerSeed       string             `json:"server_seed"`
	HashedServerSeed string             `json:"hashed_server_seed"`
	ClientSeed       string             `json:"client_seed"`
	Contributions    []SeedContribution `json:"client_seed_contributions"`
	CombinedHash     string             `json:"combined_hash"`
	RawMultiplier    float64            `json:"raw_multiplier"` // unrounded, audit only
	FinalMultiplier  float64            `json:"final_multiplier"`
}

var clientSeedPattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// GenerateServerSeed creates 256 bits of cryptographically secure
// randomness, hex encoded.
func GenerateServerSeed() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate server seed: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashSeed returns the SHA-256 hex digest used as the public commitment.
func HashSeed(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// CombineClientSeeds concatenates per-user contributions into the round's
// client seed. An empty or malformed result falls back to a fixed default
// so the round can always produce an outcome.
func CombineClientSeeds(contribs []SeedContribution) string {
	var sb strings.Builder
	for _, c := range contribs {
		sb.WriteString(c.Seed)
	}
	combined := sb.String()
	if !IsValidClientSeed(combined) {
		return DEFAULT_CLIENT_SEED
	}
	return combined
}

func IsValidClientSeed(seed string) bool {
	return len(seed) >= MIN_CLIENT_SEED_LEN && clientSeedPattern.MatchString(seed)
}

// ComputeOutcome derives the crash point from the seed pair. Pure and
// deterministic: anyone can recompute it from the revealed seeds and
// confirm the published multiplier.
func ComputeOutcome(serverSeed, clientSeed string) Outcome {
	combined := sha256.Sum256([]byte(serverSeed + clientSeed))
	combinedHex := hex.EncodeToString(combined[:])

	raw := multiplierFromHash(combinedHex)

	adjusted := raw * (1 - HOUSE_EDGE)
	final := math.Floor(adjusted*100) / 100
	if final < MIN_MULTIPLIER {
		final = MIN_MULTIPLIER
	}
	if final > MAX_MULTIPLIER {
		final = MAX_MULTIPLIER
	}

	return Outcome{
		ServerSeed:       serverSeed,
		HashedServerSeed: HashSeed(serverSeed),
		ClientSeed:       clientSeed,
		CombinedHash:     combinedHex,
		RawMultiplier:    raw,
		FinalMultiplier:  final,
	}
}

// multiplierFromHash maps the hash prefix into (0,1] and inverts it.
// Smaller prefixes yield higher multipliers, which is what makes the
// distribution heavy-tailed.
func multiplierFromHash(combinedHex string) float64 {
	prefix := combinedHex[:HASH_PREFIX_LEN]
	n := new(big.Int)
	n.SetString(prefix, 16)

	// 2^(4*len) - 1, so the maximum prefix normalizes to exactly 1
	denom := new(big.Int).Lsh(big.NewInt(1), uint(4*HASH_PREFIX_LEN))
	denom.Sub(denom, big.NewInt(1))

	// all-zero prefix would divide by itself to zero; clamp numerator to 1
	if n.Sign() == 0 {
		n.SetInt64(1)
	}

	nf, _ := new(big.Float).SetInt(n).Float64()
	df, _ := new(big.Float).SetInt(denom).Float64()
	normalized := nf / df

	return 1 / normalized
}

// VerifyOutcome recomputes the crash point from revealed seeds and checks
// it against the claimed multiplier.
func VerifyOutcome(serverSeed, clientSeed string, claimedMultiplier float64) bool {
	out := ComputeOutcome(serverSeed, clientSeed)
	return math.Abs(out.FinalMultiplier-claimedMultiplier) < 0.01
}
