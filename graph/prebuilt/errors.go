package prebuilt

import "fmt"

// ToolLoopExceededError stops a conversation whose model keeps requesting
// tools past the configured number of rounds.
type ToolLoopExceededError struct {
	Rounds int
	Max    int
}

func (e *ToolLoopExceededError) Error() string {
	return fmt.Sprintf("tool loop exceeded: %d consecutive tool rounds (max %d)", e.Rounds, e.Max)
}
