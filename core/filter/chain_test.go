package filter

import "testing"

type testConn struct {
	method string
	url    string
}

func (c *testConn) RequestMethod() string { return c.method }
func (c *testConn) RequestURL() string    { return c.url }

func TestManager_RunOrder(t *testing.T) {
	m := NewManager[*testConn]()
	var order []string

	m.RegisterFilter("*", "/*", PreAuth, func(c *testConn, arg any) Disposition {
		order = append(order, "pre-auth")
		return OK
	}, nil, false)
	m.RegisterFilter("*", "/*", PostAuth, func(c *testConn, arg any) Disposition {
		order = append(order, "post-auth")
		return OK
	}, nil, false)
	m.RegisterTrace("*", "/*", func(c *testConn, arg any) Disposition {
		order = append(order, "trace")
		return OK
	}, nil, false)
	m.RegisterCleanup("*", "/*", func(c *testConn, arg any) Disposition {
		order = append(order, "cleanup")
		return OK
	}, nil, false)

	authorize := func(c *testConn, arg any) Disposition {
		order = append(order, "authorize")
		return OK
	}
	handler := func(c *testConn, arg any) Disposition {
		order = append(order, "handler")
		return OK
	}

	outcome, err := m.Run(&testConn{method: "GET", url: "/x"}, authorize, nil, handler, nil)
	if err != nil || outcome != OK {
		t.Fatalf("Run = %v, %v", outcome, err)
	}

	want := []string{"pre-auth", "authorize", "post-auth", "handler", "trace", "cleanup"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestManager_AuthFailureSkipsHandlerButRunsCleanup(t *testing.T) {
	m := NewManager[*testConn]()
	var handlerRan, cleanupRan bool

	m.RegisterCleanup("*", "/*", func(c *testConn, arg any) Disposition {
		cleanupRan = true
		return OK
	}, nil, false)

	authorize := func(c *testConn, arg any) Disposition { return Return }
	handler := func(c *testConn, arg any) Disposition {
		handlerRan = true
		return OK
	}

	outcome, err := m.Run(&testConn{method: "GET", url: "/x"}, authorize, nil, handler, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Return {
		t.Fatalf("outcome = %v, want Return", outcome)
	}
	if handlerRan {
		t.Fatal("handler should not run after auth failure")
	}
	if !cleanupRan {
		t.Fatal("cleanup must always run")
	}
}

func TestManager_HandlerErrorSkipsTraceButRunsCleanup(t *testing.T) {
	m := NewManager[*testConn]()
	var traceRan, cleanupRan bool

	m.RegisterTrace("*", "/*", func(c *testConn, arg any) Disposition {
		traceRan = true
		return OK
	}, nil, false)
	m.RegisterCleanup("*", "/*", func(c *testConn, arg any) Disposition {
		cleanupRan = true
		return OK
	}, nil, false)

	authorize := func(c *testConn, arg any) Disposition { return OK }
	handler := func(c *testConn, arg any) Disposition { return Error }

	outcome, err := m.Run(&testConn{method: "GET", url: "/x"}, authorize, nil, handler, nil)
	if err == nil || outcome != Error {
		t.Fatalf("Run = %v, %v, want Error + err", outcome, err)
	}
	if traceRan {
		t.Fatal("trace must not run after handler error")
	}
	if !cleanupRan {
		t.Fatal("cleanup must always run")
	}
}

func TestManager_BreakStopsPhaseButContinuesPipeline(t *testing.T) {
	m := NewManager[*testConn]()
	var ran []string

	m.RegisterFilter("*", "/*", PreAuth, func(c *testConn, arg any) Disposition {
		ran = append(ran, "first")
		return Break
	}, nil, false)
	m.RegisterFilter("*", "/*", PreAuth, func(c *testConn, arg any) Disposition {
		ran = append(ran, "second")
		return OK
	}, nil, false)

	authorize := func(c *testConn, arg any) Disposition { return OK }
	handler := func(c *testConn, arg any) Disposition {
		ran = append(ran, "handler")
		return OK
	}

	outcome, err := m.Run(&testConn{method: "GET", url: "/x"}, authorize, nil, handler, nil)
	if err != nil || outcome != OK {
		t.Fatalf("Run = %v, %v", outcome, err)
	}
	if len(ran) != 2 || ran[0] != "first" || ran[1] != "handler" {
		t.Fatalf("ran = %v, want [first handler] (second pre-auth filter skipped)", ran)
	}
}

func TestManager_RegisterFirstPrepends(t *testing.T) {
	m := NewManager[*testConn]()
	var order []string

	m.RegisterFilter("*", "/*", PreAuth, func(c *testConn, arg any) Disposition {
		order = append(order, "appended-first")
		return OK
	}, nil, false)
	m.RegisterFilter("*", "/*", PreAuth, func(c *testConn, arg any) Disposition {
		order = append(order, "prepended")
		return OK
	}, nil, true)

	m.Run(&testConn{method: "GET", url: "/x"},
		func(c *testConn, arg any) Disposition { return OK },
		nil,
		func(c *testConn, arg any) Disposition { return OK },
		nil)

	if len(order) != 2 || order[0] != "prepended" {
		t.Fatalf("order = %v, want prepended first", order)
	}
}

func TestStringMatch_FullURLWildcard(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "/any/thing", true},
		{"/admin/*", "/admin/users/1", true},
		{"/admin/*", "/public/x", false},
		{"/a?c", "/abc", true},
		{"/a?c", "/abbc", false},
	}
	for _, c := range cases {
		if got := stringMatch(c.pattern, c.s); got != c.want {
			t.Errorf("stringMatch(%q, %q) = %v, want %v", c.pattern, c.s, got, c.want)
		}
	}
}
