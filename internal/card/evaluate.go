package card

import "sort"

// Scores for declaration checking. An invalid hand always scores the
// fixed penalty; a valid hand scores its deadwood, clamped to MaxScore.
const (
	InvalidHandScore = 80
	MaxScore         = 80
)

// Result is the outcome of evaluating a 13-card hand.
type Result struct {
	Valid          bool
	PureSequences  int
	TotalSequences int
	Sets           int
	Groups         [][]string
	Deadwood       []string
	Score          int
}

// Evaluate partitions a 13-card hand into pure sequences, impure
// sequences and sets, greedily and deterministically: suit by suit in
// fixed order, ranks ascending, jokers spent left to right. The greedy
// pass is not guaranteed globally optimal; determinism is the contract,
// because the score is money-bearing.
func Evaluate(tokens []string, jokerCard string) Result {
	wild := WildRank(jokerCard)

	var pool []Card // printed + wild-rank jokers, spent in input order
	bySuit := make(map[string][]Card)
	for _, t := range tokens {
		c := MustParse(t, wild)
		if c.Joker {
			pool = append(pool, c)
			continue
		}
		bySuit[c.Suit] = append(bySuit[c.Suit], c)
	}
	for _, s := range Suits {
		sortCards(bySuit[s])
	}

	var res Result
	var leftover []Card

	// Pure sequences first: they gate validity and must not consume
	// jokers.
	for _, s := range Suits {
		runs, rest := extractPureRuns(bySuit[s])
		for _, run := range runs {
			res.PureSequences++
			res.Groups = append(res.Groups, cardTokens(run))
		}
		bySuit[s] = rest
	}

	// Impure sequences fill rank gaps with jokers.
	impure := 0
	for _, s := range Suits {
		runs, rest := extractImpureRuns(bySuit[s], &pool)
		for _, run := range runs {
			impure++
			res.Groups = append(res.Groups, cardTokens(run))
		}
		leftover = append(leftover, rest...)
	}
	res.TotalSequences = res.PureSequences + impure

	// Sets from the remaining cards, ranks ascending.
	sets, rest := extractSets(leftover, &pool)
	for _, set := range sets {
		res.Sets++
		res.Groups = append(res.Groups, cardTokens(set))
	}

	deadwood := 0
	for _, c := range rest {
		res.Deadwood = append(res.Deadwood, c.Token)
		deadwood += c.Points
	}
	for _, c := range pool {
		// unmatched jokers count zero
		res.Deadwood = append(res.Deadwood, c.Token)
	}

	res.Valid = res.PureSequences >= 1 && res.TotalSequences >= 2
	if !res.Valid {
		res.Score = InvalidHandScore
		return res
	}
	if deadwood > MaxScore {
		deadwood = MaxScore
	}
	res.Score = deadwood
	return res
}

// EvaluateDeclare checks a 14-card declaration by trying every
// single-card drop and keeping the best 13-card result: valid beats
// invalid, then lowest score, then lowest drop index. Returns the
// winning result and the token to discard.
func EvaluateDeclare(tokens []string, jokerCard string) (Result, string) {
	var best Result
	bestIdx := -1
	hand := make([]string, 0, len(tokens)-1)
	for i := range tokens {
		hand = hand[:0]
		hand = append(hand, tokens[:i]...)
		hand = append(hand, tokens[i+1:]...)
		r := Evaluate(hand, jokerCard)
		if bestIdx == -1 || betterResult(r, best) {
			best = r
			bestIdx = i
		}
	}
	return best, tokens[bestIdx]
}

func betterResult(a, b Result) bool {
	if a.Valid != b.Valid {
		return a.Valid
	}
	return a.Score < b.Score
}

// RemoveToken removes the first occurrence of token, reporting whether
// it was present. Hands are multisets: duplicates from multi-deck games
// are removed one at a time.
func RemoveToken(tokens []string, token string) ([]string, bool) {
	for i, t := range tokens {
		if t == token {
			out := make([]string, 0, len(tokens)-1)
			out = append(out, tokens[:i]...)
			out = append(out, tokens[i+1:]...)
			return out, true
		}
	}
	return tokens, false
}

func sortCards(cards []Card) {
	sort.Slice(cards, func(i, j int) bool {
		if cards[i].Order != cards[j].Order {
			return cards[i].Order < cards[j].Order
		}
		return cards[i].Token < cards[j].Token
	})
}

func cardTokens(cards []Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.Token
	}
	return out
}

// extractPureRuns takes maximal runs of consecutive ranks from one
// suit's sorted cards. A run ending at the king may absorb an unused
// ace, forming the Q-K-A wrap.
func extractPureRuns(cards []Card) ([][]Card, []Card) {
	used := make([]bool, len(cards))
	var runs [][]Card
	for i := 0; i < len(cards); i++ {
		if used[i] {
			continue
		}
		idx := []int{i}
		last := cards[i].Order
		for j := i + 1; j < len(cards); j++ {
			if used[j] || cards[j].Order == last {
				continue
			}
			if cards[j].Order != last+1 {
				break
			}
			idx = append(idx, j)
			last = cards[j].Order
		}
		if last == 13 {
			for j := 0; j < len(cards); j++ {
				if !used[j] && cards[j].Order == 1 && !containsInt(idx, j) {
					idx = append(idx, j)
					break
				}
			}
		}
		if len(idx) < 3 {
			continue
		}
		run := make([]Card, 0, len(idx))
		for _, k := range idx {
			used[k] = true
			run = append(run, cards[k])
		}
		runs = append(runs, run)
	}
	return runs, unusedCards(cards, used)
}

// extractImpureRuns chains what is left of a suit, spending jokers to
// bridge rank gaps and padding short chains up to length three. Chains
// need at least two natural cards; a lone card is never built into a
// run, which is a known limitation of the greedy search.
func extractImpureRuns(cards []Card, pool *[]Card) ([][]Card, []Card) {
	used := make([]bool, len(cards))
	var runs [][]Card
	for i := 0; i < len(cards); i++ {
		if used[i] {
			continue
		}
		idx := []int{i}
		last := cards[i].Order
		spent := 0
		for j := i + 1; j < len(cards); j++ {
			if used[j] || cards[j].Order == last {
				continue
			}
			gap := cards[j].Order - last - 1
			if spent+gap > len(*pool) {
				break
			}
			spent += gap
			idx = append(idx, j)
			last = cards[j].Order
		}
		if len(idx) < 2 {
			continue
		}
		pad := 0
		if len(idx)+spent < 3 {
			pad = 3 - len(idx) - spent
		}
		if spent+pad == 0 || spent+pad > len(*pool) {
			continue
		}
		run := make([]Card, 0, len(idx)+spent+pad)
		for _, k := range idx {
			used[k] = true
			run = append(run, cards[k])
		}
		for n := 0; n < spent+pad; n++ {
			run = append(run, (*pool)[0])
			*pool = (*pool)[1:]
		}
		runs = append(runs, run)
	}
	return runs, unusedCards(cards, used)
}

// extractSets groups leftovers by rank, distinct suits only, at most
// four cards. A pair may borrow one joker to reach three.
func extractSets(cards []Card, pool *[]Card) ([][]Card, []Card) {
	sortCards(cards)
	used := make([]bool, len(cards))
	var sets [][]Card
	for order := 1; order <= 13; order++ {
		var idx []int
		seen := make(map[string]bool)
		for j, c := range cards {
			if used[j] || c.Order != order || seen[c.Suit] {
				continue
			}
			seen[c.Suit] = true
			idx = append(idx, j)
			if len(idx) == 4 {
				break
			}
		}
		switch {
		case len(idx) >= 3:
		case len(idx) == 2 && len(*pool) >= 1:
		default:
			continue
		}
		set := make([]Card, 0, 4)
		for _, k := range idx {
			used[k] = true
			set = append(set, cards[k])
		}
		if len(set) == 2 {
			set = append(set, (*pool)[0])
			*pool = (*pool)[1:]
		}
		sets = append(sets, set)
	}
	return sets, unusedCards(cards, used)
}

func unusedCards(cards []Card, used []bool) []Card {
	var rest []Card
	for j, u := range used {
		if !u {
			rest = append(rest, cards[j])
		}
	}
	return rest
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
