package aircraft

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wkrawczyk/dronefield/pkg/logger"
)

const testWaylines = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2" xmlns:wpml="http://www.dji.com/wpmz/1.0.2">
  <Document>
    <Folder>
      <Placemark>
        <Point><coordinates>21.0100,52.2300</coordinates></Point>
        <wpml:index>0</wpml:index>
        <wpml:executeHeight>10</wpml:executeHeight>
      </Placemark>
      <Placemark>
        <Point><coordinates>21.0101,52.2301</coordinates></Point>
        <wpml:index>1</wpml:index>
        <wpml:executeHeight>10</wpml:executeHeight>
      </Placemark>
    </Folder>
  </Document>
</kml>`

func writeMissionContainer(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mission.kmz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create container: %v", err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	w, err := zw.Create("wpmz/waylines.wpml")
	if err != nil {
		t.Fatalf("failed to create entry: %v", err)
	}
	if _, err := w.Write([]byte(testWaylines)); err != nil {
		t.Fatalf("failed to write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return path
}

func newFastSim() *Simulated {
	sim := NewSimulated(logger.NewNop())
	sim.SetTiming(2*time.Millisecond, time.Millisecond)
	return sim
}

func pushAndWait(t *testing.T, sim *Simulated, path string) {
	t.Helper()
	task := sim.PushMissionFile(context.Background(), path)
	select {
	case err := <-task.Done():
		if err != nil {
			t.Fatalf("upload failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("upload did not complete")
	}
}

func TestSimulatedUploadReportsProgress(t *testing.T) {
	sim := newFastSim()
	path := writeMissionContainer(t)

	task := sim.PushMissionFile(context.Background(), path)
	var last float64
	for {
		select {
		case p, ok := <-task.Progress():
			if ok {
				last = p
			}
		case err := <-task.Done():
			if err != nil {
				t.Fatalf("upload failed: %v", err)
			}
			if last != 1.0 {
				t.Errorf("expected final progress 1.0, got %f", last)
			}
			return
		case <-time.After(5 * time.Second):
			t.Fatal("upload did not complete")
		}
	}
}

func TestSimulatedRejectsMissingAndBrokenFiles(t *testing.T) {
	sim := newFastSim()

	task := sim.PushMissionFile(context.Background(), filepath.Join(t.TempDir(), "absent.kmz"))
	if err := <-task.Done(); err == nil {
		t.Error("expected error for missing file")
	}

	broken := filepath.Join(t.TempDir(), "broken.kmz")
	if err := os.WriteFile(broken, []byte("not a zip"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	task = sim.PushMissionFile(context.Background(), broken)
	if err := <-task.Done(); err == nil {
		t.Error("expected error for non-zip container")
	}
}

func TestSimulatedStartRequiresMission(t *testing.T) {
	sim := newFastSim()
	if err := sim.StartMission(context.Background(), "mission.kmz"); err == nil {
		t.Error("expected error when starting with no mission loaded")
	}
}

func TestSimulatedFliesRouteAndLands(t *testing.T) {
	sim := newFastSim()
	pushAndWait(t, sim, writeMissionContainer(t))

	var mu sync.Mutex
	var flyingSeq []bool
	var positions int
	unsubFly, err := sim.SubscribeFlying(func(f bool) {
		mu.Lock()
		flyingSeq = append(flyingSeq, f)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("SubscribeFlying failed: %v", err)
	}
	defer unsubFly()
	unsubPos, err := sim.SubscribePosition(func(p Position) {
		mu.Lock()
		positions++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("SubscribePosition failed: %v", err)
	}
	defer unsubPos()

	if err := sim.StartMission(context.Background(), "mission.kmz"); err != nil {
		t.Fatalf("StartMission failed: %v", err)
	}

	deadline := time.After(10 * time.Second)
	for {
		mu.Lock()
		n := len(flyingSeq)
		done := n >= 2 && !flyingSeq[n-1]
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("simulated flight never landed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if !flyingSeq[0] {
		t.Error("expected flying=true first")
	}
	if positions == 0 {
		t.Error("expected position reports during flight")
	}
	if sim.Flying() {
		t.Error("simulator still flying after route completion")
	}
}

func TestSimulatedQueuedStartFailures(t *testing.T) {
	sim := newFastSim()
	pushAndWait(t, sim, writeMissionContainer(t))

	homeErr := errors.New("home point not updated")
	sim.QueueStartFailures(homeErr, homeErr)

	for i := 0; i < 2; i++ {
		if err := sim.StartMission(context.Background(), "mission.kmz"); !errors.Is(err, homeErr) {
			t.Fatalf("attempt %d: expected queued failure, got %v", i+1, err)
		}
	}
	if err := sim.StartMission(context.Background(), "mission.kmz"); err != nil {
		t.Errorf("expected start to succeed after queue drained, got %v", err)
	}
	sim.StopMission()
}
