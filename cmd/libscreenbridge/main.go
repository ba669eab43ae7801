// Command libscreenbridge is built with -buildmode=c-shared (or c-archive)
// and exposes the capture bridge through the C ABI declared in
// include/screenbridge.h.
package main

/*
#include <stdint.h>
*/
import "C"

import (
	"context"
	"sync"
	"unsafe"

	"github.com/bryanchriswhite/ScreenBridge/internal/bridge"
	"github.com/bryanchriswhite/ScreenBridge/internal/capture"
	"github.com/bryanchriswhite/ScreenBridge/internal/config"
	"github.com/bryanchriswhite/ScreenBridge/internal/logger"
)

var (
	once     sync.Once
	instance *bridge.Bridge
)

// shared builds the bridge on first use. A nil result means construction
// failed and every entry point reports capture as unavailable.
func shared() *bridge.Bridge {
	once.Do(func() {
		log := logger.WithComponent("libscreenbridge")

		mgr, err := config.NewManager("")
		if err != nil {
			log.Error().Err(err).Msg("Failed to load configuration")
			return
		}
		cfg := mgr.Get()
		logger.Init(cfg.LogLevel, cfg.LogPretty)

		b, err := bridge.NewFromConfig(cfg)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize capture bridge")
			return
		}
		instance = b
	})
	return instance
}

func recovered(ret *C.int, entry string) {
	if p := recover(); p != nil {
		logger.WithComponent("libscreenbridge").Error().
			Str("entry", entry).
			Interface("panic", p).
			Msg("Recovered from panic")
		*ret = C.int(bridge.CaptureFailed)
	}
}

//export sb_capability_available
func sb_capability_available() (ret C.int) {
	defer func() {
		if p := recover(); p != nil {
			logger.WithComponent("libscreenbridge").Error().Interface("panic", p).Msg("Recovered from panic in probe")
			ret = 0
		}
	}()

	b := shared()
	if b == nil || !b.Available() {
		return 0
	}
	return 1
}

//export sb_capture_fullscreen
func sb_capture_fullscreen(outData **C.uint8_t, outLength *C.int) (ret C.int) {
	defer recovered(&ret, "sb_capture_fullscreen")
	return deliver(capture.Fullscreen(), outData, outLength)
}

//export sb_capture_region
func sb_capture_region(x, y, w, h C.float, outData **C.uint8_t, outLength *C.int) (ret C.int) {
	defer recovered(&ret, "sb_capture_region")
	return deliver(capture.Region(float64(x), float64(y), float64(w), float64(h)), outData, outLength)
}

//export sb_capture_window
func sb_capture_window(windowID C.uint32_t, outData **C.uint8_t, outLength *C.int) (ret C.int) {
	defer recovered(&ret, "sb_capture_window")
	return deliver(capture.Window(uint32(windowID)), outData, outLength)
}

//export sb_release_buffer
func sb_release_buffer(data *C.uint8_t) {
	defer func() {
		if p := recover(); p != nil {
			logger.WithComponent("libscreenbridge").Error().Interface("panic", p).Msg("Recovered from panic in release")
		}
	}()

	if data == nil {
		return
	}
	if b := shared(); b != nil {
		b.Release(unsafe.Pointer(data))
	}
}

// deliver runs req through the bridge. C int is 32 bits on every platform
// cgo supports, so the out-params are viewed as their Go equivalents.
func deliver(req capture.Request, outData **C.uint8_t, outLength *C.int) C.int {
	code := shared().DeliverTo(context.Background(), req,
		(*unsafe.Pointer)(unsafe.Pointer(outData)),
		(*int32)(unsafe.Pointer(outLength)))
	return C.int(code)
}

func main() {}
