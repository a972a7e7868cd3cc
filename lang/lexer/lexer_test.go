package lexer_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sbl8/harmonics/internal/herr"
	"github.com/sbl8/harmonics/lang/lexer"
	"github.com/sbl8/harmonics/lang/token"
)

func kinds(t *testing.T, src string) []token.Kind {
	t.Helper()
	l := lexer.New(src)
	var out []token.Kind
	for {
		tok, err := l.Next()
		require.NoError(t, err)
		out = append(out, tok.Kind)
		if tok.Kind == token.End {
			return out
		}
	}
}

func TestKeywordsAndPunctuation(t *testing.T) {
	got := kinds(t, "producer p {4}; layer l 1/2 p; cycle { p -> l; }")
	want := []token.Kind{
		token.Producer, token.Identifier, token.LBrace, token.Number, token.RBrace, token.Semicolon,
		token.Layer, token.Identifier, token.Number, token.Slash, token.Number, token.Identifier, token.Semicolon,
		token.Cycle, token.LBrace,
		token.Identifier, token.Arrow, token.Identifier, token.Semicolon,
		token.RBrace, token.End,
	}
	require.Equal(t, want, got)
}

func TestArrowForms(t *testing.T) {
	got := kinds(t, "-> -( relu )-> <-( mse )- | -")
	want := []token.Kind{
		token.Arrow,
		token.Hyphen, token.LParen, token.Identifier, token.RParen, token.Arrow,
		token.BackArrow, token.LParen, token.Identifier, token.RParen, token.Hyphen,
		token.Pipe, token.Hyphen, token.End,
	}
	require.Equal(t, want, got)
}

func TestCommentsSkipped(t *testing.T) {
	got := kinds(t, "# heading\nproducer p; # trailing\n")
	want := []token.Kind{token.Producer, token.Identifier, token.Semicolon, token.End}
	require.Equal(t, want, got)
}

func TestKeywordsNeverIdentifiers(t *testing.T) {
	l := lexer.New("cycle")
	tok, err := l.Next()
	require.NoError(t, err)
	require.Equal(t, token.Cycle, tok.Kind)
}

func TestLexErrorPosition(t *testing.T) {
	l := lexer.New("producer p;\n@")
	for i := 0; i < 3; i++ {
		_, err := l.Next()
		require.NoError(t, err)
	}
	_, err := l.Next()
	require.Error(t, err)
	require.True(t, errors.Is(err, herr.ErrLex))
	var lexErr *herr.LexError
	require.ErrorAs(t, err, &lexErr)
	require.Equal(t, 2, lexErr.Pos.Line)
	require.Equal(t, 1, lexErr.Pos.Col)
}
