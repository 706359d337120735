package safego

import "testing"

func TestRecoverStopsPanicPropagation(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer Recover("test goroutine")
		panic("boom")
	}()
	<-done
}

func TestRecoverIsNoOpWithoutPanic(t *testing.T) {
	func() {
		defer Recover("test goroutine")
	}()
}
