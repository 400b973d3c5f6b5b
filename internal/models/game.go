package models

// Game is a catalog entry with its stored draw count.
type Game struct {
	Name          string
	DrawCount     int
	SummaryFailed bool   // summary fetch failed; DrawCount defaulted to 0
	SummaryError  string
}

// HasDraws reports whether the server holds at least one draw for the game.
func (g Game) HasDraws() bool {
	return g.DrawCount > 0
}
