package game

import (
	"fmt"
	"strings"

	"github.com/xqdev/xqgo/internal/model"
	"github.com/xqdev/xqgo/internal/protocol"
)

// InitialFEN is the standard Xiangqi starting position. Red (upper case)
// occupies rows 0..4, black rows 5..9; "w" means red to move.
const InitialFEN = "rnbakabnr/9/1c5c1/p1p1p1p1p/9/9/P1P1P1P1P/1C5C1/9/RNBAKABNR w - - 0 1"

// Board is the 10×9 position. Row 0 is the red back rank; a zero byte is an
// empty cell. Piece glyphs follow FEN: upper case red, lower case black
// (r/n/b/a/k/c/p).
type Board [protocol.BoardRows][protocol.BoardCols]byte

// GlyphSide returns the camp a piece glyph belongs to.
func GlyphSide(glyph byte) model.Side {
	if glyph >= 'A' && glyph <= 'Z' {
		return model.SideRed
	}
	return model.SideBlack
}

// sideChar is the FEN side-to-move letter; engines use w for red.
func sideChar(s model.Side) byte {
	if s == model.SideRed {
		return 'w'
	}
	return 'b'
}

// ParseFEN reads the board and side to move from a FEN string. The rank
// written first is row 9 (the black back rank).
func ParseFEN(fen string) (Board, model.Side, error) {
	var board Board

	fields := strings.Fields(fen)
	if len(fields) == 0 {
		return board, "", fmt.Errorf("empty FEN")
	}

	ranks := strings.Split(fields[0], "/")
	if len(ranks) != protocol.BoardRows {
		return board, "", fmt.Errorf("FEN has %d ranks, want %d", len(ranks), protocol.BoardRows)
	}

	for i, rank := range ranks {
		row := protocol.BoardRows - 1 - i
		col := 0
		for _, c := range []byte(rank) {
			switch {
			case c >= '1' && c <= '9':
				col += int(c - '0')
			case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
				if col >= protocol.BoardCols {
					return board, "", fmt.Errorf("FEN rank %d overflows the board", i)
				}
				board[row][col] = c
				col++
			default:
				return board, "", fmt.Errorf("FEN rank %d: bad character %q", i, c)
			}
		}
		if col != protocol.BoardCols {
			return board, "", fmt.Errorf("FEN rank %d covers %d columns, want %d", i, col, protocol.BoardCols)
		}
	}

	turn := model.SideRed
	if len(fields) > 1 && fields[1] == "b" {
		turn = model.SideBlack
	}
	return board, turn, nil
}

// FEN renders the position with side to move and the move counters derived
// from moveCount.
func (b *Board) FEN(turn model.Side, moveCount int) string {
	var sb strings.Builder

	for row := protocol.BoardRows - 1; row >= 0; row-- {
		if row < protocol.BoardRows-1 {
			sb.WriteByte('/')
		}
		empty := 0
		for col := 0; col < protocol.BoardCols; col++ {
			piece := b[row][col]
			if piece == 0 {
				empty++
				continue
			}
			if empty > 0 {
				sb.WriteByte(byte('0' + empty))
				empty = 0
			}
			sb.WriteByte(piece)
		}
		if empty > 0 {
			sb.WriteByte(byte('0' + empty))
		}
	}

	fmt.Fprintf(&sb, " %c - - 0 %d", sideChar(turn), moveCount/2+1)
	return sb.String()
}

// At returns the glyph at pos, zero when the cell is empty.
func (b *Board) At(pos protocol.Position) byte {
	return b[pos.Row][pos.Col]
}

// apply moves the glyph from one cell to another and returns the captured
// glyph, if any. The caller has already validated the cells.
func (b *Board) apply(from, to protocol.Position) byte {
	captured := b[to.Row][to.Col]
	b[to.Row][to.Col] = b[from.Row][from.Col]
	b[from.Row][from.Col] = 0
	return captured
}

// MoveToUCI renders a move in engine coordinates: files a..i left to right,
// ranks 0..9 from the red side.
func MoveToUCI(from, to protocol.Position) string {
	return string([]byte{
		byte('a' + from.Col), byte('0' + from.Row),
		byte('a' + to.Col), byte('0' + to.Row),
	})
}

// UCIToMove parses the four leading characters of an engine move token.
func UCIToMove(uci string) (from, to protocol.Position, err error) {
	if len(uci) < 4 {
		return from, to, fmt.Errorf("uci move %q too short", uci)
	}
	cells := [4]int{}
	for i := 0; i < 4; i += 2 {
		file, rank := uci[i], uci[i+1]
		if file < 'a' || file > 'i' || rank < '0' || rank > '9' {
			return from, to, fmt.Errorf("uci move %q: bad square %q", uci, uci[i:i+2])
		}
		cells[i] = int(file - 'a')
		cells[i+1] = int(rank - '0')
	}
	from = protocol.Position{Row: cells[1], Col: cells[0]}
	to = protocol.Position{Row: cells[3], Col: cells[2]}
	return from, to, nil
}
