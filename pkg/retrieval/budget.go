package retrieval

// Token estimation uses a fixed characters-per-token ratio. This is an
// approximation; swapping in the exact tokenizer of the deployed generative
// backend only requires replacing EstimateTokens.
const charsPerToken = 4

// EstimateTokens approximates the model-token cost of a piece of text.
func EstimateTokens(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// fitBudget greedily takes elements in the given order until adding the next
// one would exceed the budget. Elements must already be sorted by descending
// priority. Returns the kept elements and their total estimated token count.
func fitBudget(elements []Element, budget int) ([]Element, int) {
	var kept []Element
	total := 0
	for _, el := range elements {
		cost := EstimateTokens(el.Content)
		if total+cost > budget {
			continue
		}
		kept = append(kept, el)
		total += cost
	}
	return kept, total
}
