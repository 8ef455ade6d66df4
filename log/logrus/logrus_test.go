package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/offlinecache"
)

func TestErrorFieldUsesWithError(t *testing.T) {
	base, hook := test.NewNullLogger()
	l := New(base)

	l.Error("pending operation lost", offlinecache.Fields{"url": "/api/lots", "err": errors.New("disk full")})

	e := hook.LastEntry()
	if e == nil || e.Level != logrus.ErrorLevel {
		t.Fatalf("entry = %+v", e)
	}
	if e.Data[logrus.ErrorKey].(error).Error() != "disk full" {
		t.Fatalf("error field = %v", e.Data[logrus.ErrorKey])
	}
	if e.Data["url"] != "/api/lots" || e.Data["component"] != "offlinecache" {
		t.Fatalf("data = %v", e.Data)
	}
}
