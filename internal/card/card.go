// Package card implements the card model, deck handling and the hand
// evaluator for 13-card rummy.
package card

import (
	"fmt"
	"math/rand"
)

// JokerToken is the token for a printed joker card.
const JokerToken = "JOKER"

// Suit identifiers, in the fixed iteration order used everywhere the
// evaluator needs determinism.
var Suits = []string{"S", "H", "D", "C"}

// Ranks in ascending order value. The ace is low (order 1) but may
// extend a run past the king to form Q-K-A.
var Ranks = []string{"A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}

var rankOrder = map[string]int{
	"A": 1, "2": 2, "3": 3, "4": 4, "5": 5, "6": 6, "7": 7,
	"8": 8, "9": 9, "10": 10, "J": 11, "Q": 12, "K": 13,
}

var rankPoints = map[string]int{
	"A": 10, "2": 2, "3": 3, "4": 4, "5": 5, "6": 6, "7": 7,
	"8": 8, "9": 9, "10": 10, "J": 10, "Q": 10, "K": 10,
}

// Card is a parsed card token. Cards are immutable values; a card has
// no owner and moves between piles and hands as its token.
type Card struct {
	Token   string
	Rank    string
	Suit    string
	Order   int
	Points  int
	Joker   bool // acting as a joker this game (printed or wild rank)
	Printed bool // printed joker card
}

// Parse decodes a card token ("AS", "10H", "JOKER") against the game's
// wild rank. An unrecognized token means persisted state is corrupt and
// is reported as an error for the caller to escalate.
func Parse(token, wildRank string) (Card, error) {
	if token == JokerToken {
		return Card{Token: token, Rank: JokerToken, Joker: true, Printed: true}, nil
	}
	if len(token) < 2 {
		return Card{}, fmt.Errorf("malformed card token %q", token)
	}
	rank := token[:len(token)-1]
	suit := token[len(token)-1:]
	order, ok := rankOrder[rank]
	if !ok {
		return Card{}, fmt.Errorf("malformed card token %q: unknown rank %q", token, rank)
	}
	if !validSuit(suit) {
		return Card{}, fmt.Errorf("malformed card token %q: unknown suit %q", token, suit)
	}
	return Card{
		Token:  token,
		Rank:   rank,
		Suit:   suit,
		Order:  order,
		Points: rankPoints[rank],
		Joker:  wildRank != "" && rank == wildRank,
	}, nil
}

// MustParse is Parse for tokens that come from engine-owned state.
func MustParse(token, wildRank string) Card {
	c, err := Parse(token, wildRank)
	if err != nil {
		panic(err)
	}
	return c
}

func validSuit(s string) bool {
	for _, v := range Suits {
		if v == s {
			return true
		}
	}
	return false
}

// WildRank derives the wild rank from the face-up joker card. Drawing a
// printed joker means only printed jokers are wild for the round.
func WildRank(jokerCard string) string {
	if jokerCard == "" || jokerCard == JokerToken {
		return ""
	}
	return jokerCard[:len(jokerCard)-1]
}

// Points returns the deadwood point value of a token. Jokers score zero.
func Points(token, wildRank string) int {
	c := MustParse(token, wildRank)
	if c.Joker {
		return 0
	}
	return c.Points
}

// BuildDeck returns deckCount standard 52-card decks, plus two printed
// jokers per deck when enabled, in deterministic pre-shuffle order.
func BuildDeck(deckCount int, printedJokers bool) []string {
	var deck []string
	for d := 0; d < deckCount; d++ {
		for _, suit := range Suits {
			for _, rank := range Ranks {
				deck = append(deck, rank+suit)
			}
		}
		if printedJokers {
			deck = append(deck, JokerToken, JokerToken)
		}
	}
	return deck
}

// DecksFor returns the number of whole decks needed to deal 13 cards to
// each of n seats with a working margin for the piles.
func DecksFor(seats int) int {
	need := seats*13 + 30
	decks := need / 52
	if need%52 != 0 {
		decks++
	}
	return decks
}

// Shuffle permutes cards in place with an unbiased Fisher-Yates pass.
func Shuffle(cards []string, rng *rand.Rand) {
	for i := len(cards) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}
}
