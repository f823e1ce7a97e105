package binding

import (
	"crypto/rand"
	"fmt"
	"time"

	"mediafetch/entity"
)

// Alphabet for binding codes: uppercase letters and digits without the
// visually confusable 0, O, 1 and I. 32 characters, so a byte modulo the
// alphabet length stays uniform.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const maxGenerateAttempts = 5

// CodeChecker is the slice of the store the generator needs for its
// uniqueness check. Returns (nil, nil) when the code is unknown.
type CodeChecker interface {
	GetCode(code string) (*entity.BindingCode, error)
}

// CodeGenerator produces collision-resistant, human-typeable binding codes.
// Collisions are near-impossible at 32^8, but the store check is mandatory:
// a code may never match a currently redeemable one.
type CodeGenerator struct {
	length int
	db     CodeChecker
}

func NewCodeGenerator(length int, db CodeChecker) *CodeGenerator {
	if length <= 0 {
		length = 8
	}
	return &CodeGenerator{length: length, db: db}
}

func (g *CodeGenerator) Generate() (string, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		code, err := randomCode(g.length)
		if err != nil {
			return "", fmt.Errorf("random code: %w", err)
		}
		existing, err := g.db.GetCode(code)
		if err != nil {
			return "", fmt.Errorf("code uniqueness check: %w", err)
		}
		if existing == nil || !existing.IsRedeemable(time.Now()) {
			return code, nil
		}
	}
	return "", fmt.Errorf("no unique code after %d attempts", maxGenerateAttempts)
}

func randomCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}
