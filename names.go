package hsm

import "fmt"

// Well-known event names (spec §6).
const (
	EventInit = "xstate.init"
	EventUpdate = "xstate.update"
	EventErrorExecution = "error.execution"
)

// DoneInvoke names the event sent when a child actor with the given
// invocation id completes successfully.
func DoneInvoke(id string) string {
	return fmt.Sprintf("done.invoke.%s", id)
}

// ErrorPlatform names the event sent when a child actor with the given
// invocation id fails.
func ErrorPlatform(id string) string {
	return fmt.Sprintf("error.platform.%s", id)
}

// DoneState names the event raised internally when a compound or parallel
// state reaches a final configuration.
func DoneState(stateId string) string {
	return fmt.Sprintf("done.state.%s", stateId)
}

// AfterEvent names the synthetic event minted for a delayed (`after`)
// transition declared on sourceId with delay reference ref.
func AfterEvent(ref string, sourceId string) string {
	return fmt.Sprintf("xstate.after(%s)#%s", ref, sourceId)
}
