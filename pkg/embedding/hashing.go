package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"regexp"
	"strings"
)

var tokenRe = regexp.MustCompile(`\w+`)

// HashingProvider is a deterministic, local embedding provider using token
// feature hashing. It stands in for small local embedding models: tokens are
// hashed into a fixed-dimensional space with a sign bit and the result is
// L2-normalized. Useful for air-gapped runs and as the test double for
// model-backed providers.
type HashingProvider struct {
	dim       int
	namespace string
}

// NewHashingProvider creates a hashing provider with the given dimension.
// The namespace keeps vectors from different deployments incompatible.
func NewHashingProvider(dim int, namespace string) *HashingProvider {
	if dim <= 0 {
		dim = 384
	}
	if namespace == "" {
		namespace = "researchmem_v1"
	}
	return &HashingProvider{dim: dim, namespace: namespace}
}

func (p *HashingProvider) Dimension() int {
	return p.dim
}

func (p *HashingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.embedOne(text)
	}
	return out, nil
}

func (p *HashingProvider) embedOne(text string) []float32 {
	vec := make([]float32, p.dim)
	tokens := tokenRe.FindAllString(strings.ToLower(text), -1)
	if len(tokens) == 0 {
		return vec
	}
	for _, tok := range tokens {
		idx, sign := p.hashToken(tok)
		vec[idx] += sign
	}
	return Normalize(vec)
}

// hashToken maps a token to (index, sign): first 4 digest bytes select the
// index, the fifth byte's low bit the sign.
func (p *HashingProvider) hashToken(tok string) (int, float32) {
	h := sha256.Sum256([]byte(p.namespace + "::" + tok))
	idx := int(binary.BigEndian.Uint32(h[:4]) % uint32(p.dim))
	sign := float32(1)
	if h[4]&1 == 1 {
		sign = -1
	}
	return idx, sign
}
