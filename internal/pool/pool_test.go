package pool

import (
	"sync"
	"testing"
)

func TestProvider_AllocateLength(t *testing.T) {
	p := NewProvider[uint32]()
	for _, n := range []int{0, 1, 100, 1024, 65536} {
		s := p.Allocate(n)
		if len(s) != n {
			t.Errorf("Allocate(%d): len = %d, want %d", n, len(s), n)
		}
		p.Release(s)
	}
}

func TestProvider_AllocateIsZeroed(t *testing.T) {
	p := NewProvider[uint32]()
	s := p.Allocate(64)
	for i := range s {
		s[i] = 0xdeadbeef
	}
	p.Release(s)

	s2 := p.Allocate(64)
	for i, v := range s2 {
		if v != 0 {
			t.Fatalf("Allocate after Release: s2[%d] = %x, want 0 (not zeroed)", i, v)
		}
	}
}

func TestProvider_ReuseGrowsAsNeeded(t *testing.T) {
	p := NewProvider[byte]()
	small := p.Allocate(16)
	p.Release(small)

	big := p.Allocate(4096)
	if len(big) != 4096 {
		t.Fatalf("Allocate(4096) after small Release: len = %d", len(big))
	}
	p.Release(big)
}

func TestProvider_ReleaseNilOrEmpty(t *testing.T) {
	p := NewProvider[uint16]()
	p.Release(nil)
	p.Release([]uint16{})
}

func TestSharedProviders(t *testing.T) {
	u32 := Uint32.Allocate(128)
	if len(u32) != 128 {
		t.Errorf("Uint32.Allocate(128): len = %d", len(u32))
	}
	Uint32.Release(u32)

	u16 := Uint16.Allocate(128)
	if len(u16) != 128 {
		t.Errorf("Uint16.Allocate(128): len = %d", len(u16))
	}
	Uint16.Release(u16)
}

func TestProvider_Concurrency(t *testing.T) {
	p := NewProvider[uint32]()
	const goroutines = 32
	const iterations = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				for _, n := range []int{128, 512, 2048, 8192} {
					s := p.Allocate(n)
					if len(s) != n {
						t.Errorf("concurrent Allocate(%d): len = %d", n, len(s))
						return
					}
					for j := range s {
						s[j] = uint32(j)
					}
					p.Release(s)
				}
			}
		}()
	}
	wg.Wait()
}
