package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSentencesKeepsTerminators(t *testing.T) {
	sents := splitSentences("First one. Second!\nThird line without a dot\nFourth?")
	assert.Equal(t, []string{"First one.", "Second!", "Third line without a dot", "Fourth?"}, sents)
}

func TestStripClosingSentences(t *testing.T) {
	in := "That sounds like progress. Sleep well tonight. What else happened?"
	assert.Equal(t, "That sounds like progress. What else happened?", stripClosingSentences(in))

	// A reply that is nothing but goodbyes strips to empty.
	assert.Equal(t, "", stripClosingSentences("Good night! See you tomorrow."))

	// Non-closing text passes through untouched.
	assert.Equal(t, "Tell me more about that.", stripClosingSentences("Tell me more about that."))
}

func TestStripQuestionSentences(t *testing.T) {
	in := "You did well today. Shall we stop here? Rest is deserved."
	assert.Equal(t, "You did well today. Rest is deserved.", stripQuestionSentences(in))
	assert.Equal(t, "", stripQuestionSentences("Really? Are you sure?"))
}

func TestContainsClosingPhraseIsCaseInsensitive(t *testing.T) {
	assert.True(t, containsClosingPhrase("SEE YOU TOMORROW, friend"))
	assert.True(t, containsClosingPhrase("wishing you a restful night"))
	assert.False(t, containsClosingPhrase("tomorrow we could dig into that"))
}

func TestMeaningfulLength(t *testing.T) {
	assert.Equal(t, 0, meaningfulLength("  \n\t "))
	assert.Equal(t, 3, meaningfulLength(" O k ."))
}
