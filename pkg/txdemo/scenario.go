package txdemo

import (
	"github.com/bdlab/biblioteca/pkg/entity"
)

// CommitDecision decides, after a successful insert, whether the transaction
// holding author is committed or rolled back.
type CommitDecision func(author entity.Author) bool

// NeverCommit rolls back every insert.
func NeverCommit(entity.Author) bool { return false }

// AlwaysCommit commits every successful insert.
func AlwaysCommit(entity.Author) bool { return true }

// Scenario lists the authors a run inserts.
type Scenario struct {
	// Attempts are inserted and then committed only if Decision approves.
	// A nil Decision means NeverCommit.
	Attempts []entity.Author
	Decision CommitDecision
	// Commits are inserted with InsertWithCommit, in order.
	Commits []entity.Author
}

// DefaultScenario is the classroom walkthrough: a ghost author that never
// persists, followed by two committed authors.
func DefaultScenario() Scenario {
	return Scenario{
		Attempts: []entity.Author{
			{ID: 99, FirstName: "Autor", LastName: "Fantasma"},
		},
		Decision: NeverCommit,
		Commits: []entity.Author{
			{ID: 1, FirstName: "Machado", LastName: "de Assis"},
			{ID: 2, FirstName: "Clarice", LastName: "Lispector"},
		},
	}
}

func (s Scenario) decision() CommitDecision {
	if s.Decision == nil {
		return NeverCommit
	}
	return s.Decision
}
