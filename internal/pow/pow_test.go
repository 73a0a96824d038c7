package pow

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"botgate/internal/counter"
)

const (
	tokenA = "eyJ0eXAiOiJub25jZSJ9.c2lnbmF0dXJlLWE"
	tokenB = "eyJ0eXAiOiJub25jZSJ9.c2lnbmF0dXJlLWI"
)

func TestSolveThenVerify(t *testing.T) {
	n, ok := Solve(context.Background(), tokenA, 0)
	require.True(t, ok)

	solution := strconv.FormatUint(n, 10)
	assert.True(t, Verify(tokenA, solution))
	assert.Equal(t, "0000", Digest(tokenA, n)[:4])
}

func TestSolutionIsTokenSpecific(t *testing.T) {
	n, ok := Solve(context.Background(), tokenA, 0)
	require.True(t, ok)
	m, ok := Solve(context.Background(), tokenB, 0)
	require.True(t, ok)

	assert.NotEqual(t, n, m)
	assert.False(t, Verify(tokenB, strconv.FormatUint(n, 10)))
	assert.False(t, Verify(tokenA, strconv.FormatUint(m, 10)))
}

func TestVerifyRejectsNonCanonicalSolutions(t *testing.T) {
	n, ok := Solve(context.Background(), tokenA, 0)
	require.True(t, ok)
	valid := strconv.FormatUint(n, 10)

	for _, sol := range []string{"", "0" + valid, "+" + valid, " " + valid, valid + " ", "-1", "1e3", "99999999999999999999999"} {
		assert.False(t, Verify(tokenA, sol), "solution %q", sol)
	}
	assert.False(t, Verify("", valid))
}

func TestSolveRespectsBounds(t *testing.T) {
	_, ok := Solve(context.Background(), tokenA, 1)
	// n=0 is a solution with probability 1/65536; the bound is what matters.
	if ok {
		assert.True(t, Verify(tokenA, "0"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok = Solve(ctx, tokenA, 0)
	assert.False(t, ok)
}

type GateSuite struct {
	suite.Suite
	gate     *Gate
	solution string
}

func TestGateSuite(t *testing.T) {
	suite.Run(t, new(GateSuite))
}

func (s *GateSuite) SetupSuite() {
	n, ok := Solve(context.Background(), tokenA, 0)
	s.Require().True(ok)
	s.solution = strconv.FormatUint(n, 10)
}

func (s *GateSuite) SetupTest() {
	gate, err := NewGate(counter.NewMemoryStore())
	s.Require().NoError(err)
	s.gate = gate
}

func (s *GateSuite) TestNewGateRequiresStore() {
	_, err := NewGate(nil)
	s.Error(err)
}

func (s *GateSuite) TestRedeemOnce() {
	ctx := context.Background()
	s.Require().NoError(s.gate.Redeem(ctx, tokenA, s.solution, time.Minute))

	err := s.gate.Redeem(ctx, tokenA, s.solution, time.Minute)
	s.ErrorIs(err, ErrAlreadyRedeemed)
}

func (s *GateSuite) TestWrongSolutionDoesNotConsumeNonce() {
	ctx := context.Background()
	s.ErrorIs(s.gate.Redeem(ctx, tokenA, "0"+s.solution, time.Minute), ErrInvalidSolution)
	s.NoError(s.gate.Redeem(ctx, tokenA, s.solution, time.Minute))
}
