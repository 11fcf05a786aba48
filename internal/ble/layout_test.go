package ble

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second, // still capped
	}

	for i, want := range delays {
		got := Backoff(i, 30)
		if got != want {
			t.Errorf("Backoff(%d, 30) = %v, want %v", i, got, want)
		}
	}
}

func TestBackoffOverflowProtection(t *testing.T) {
	got := Backoff(100, 30)
	want := 30 * time.Second
	if got != want {
		t.Errorf("Backoff(100, 30) = %v, want %v (capped at max)", got, want)
	}

	got = Backoff(31, 60)
	if got <= 0 || got > 60*time.Second {
		t.Errorf("Backoff(31, 60) = %v, want within (0, 60s]", got)
	}
}

func TestNewLayoutNormalizes(t *testing.T) {
	l, err := NewLayout("00001813-0000-1000-8000-00805F9B34FB", "0000AB01-0000-1000-8000-00805F9B34FB", TXCharUUID)
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	if l != DefaultLayout() {
		t.Errorf("NewLayout() = %+v, want %+v", l, DefaultLayout())
	}

	if _, err := NewLayout("1813", RXCharUUID, TXCharUUID); err == nil {
		t.Error("NewLayout() should reject a short UUID")
	}
}

func TestLayoutPropertiesForUnknownCharacteristic(t *testing.T) {
	info := DefaultLayout().properties("0000ffff-0000-1000-8000-00805f9b34fb")
	if info.Properties != 0 || len(info.Descriptors) != 0 {
		t.Errorf("properties() = %+v, want none", info)
	}
	tx := DefaultLayout().properties(TXCharUUID)
	if !tx.Properties.Has(PropNotify) || !tx.HasDescriptor(CCCDUUID) {
		t.Errorf("properties(TX) = %+v, want notify with CCCD", tx)
	}
}
