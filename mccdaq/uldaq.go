//go:build uldaq
// +build uldaq

package mccdaq

/*
#cgo CFLAGS: -I/usr/local
#cgo LDFLAGS: -L/usr/local/lib -luldaq
#include <stdlib.h>
#include <uldaq.h>

*/
import "C"
import (
	"fmt"
	"sync"
	"unsafe"
)

func ulErr(code C.UlError) error {
	if code == C.ERR_NO_ERROR {
		return nil
	}
	msg := (*C.char)(C.malloc(C.ERR_MSG_LEN))
	defer C.free(unsafe.Pointer(msg))
	C.ulGetErrMsg(code, msg)
	return fmt.Errorf("mccdaq: uldaq error %d: %s", int(code), C.GoString(msg))
}

// cbuf is a scan buffer allocated in C memory so the driver can keep
// writing into it after the call that started the scan returns
type cbuf struct {
	ptr *C.double
	n   int
}

func (b *cbuf) resize(n int) {
	if b.n == n && b.ptr != nil {
		return
	}
	b.free()
	b.ptr = (*C.double)(C.calloc(C.size_t(n), C.size_t(unsafe.Sizeof(C.double(0)))))
	b.n = n
}

func (b *cbuf) slice() []float64 {
	if b.ptr == nil {
		return nil
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(b.ptr)), b.n)
}

func (b *cbuf) free() {
	if b.ptr != nil {
		C.free(unsafe.Pointer(b.ptr))
		b.ptr = nil
		b.n = 0
	}
}

// Device is a board opened through libuldaq
type Device struct {
	handle C.DaqDeviceHandle

	mu  sync.Mutex
	in  cbuf
	out cbuf

	inRanges, outRanges []int
}

// Open connects to the first board found on the given interfaces.  code selects
// a board by its unique id when non-empty.
func Open(iface InterfaceType, code string) (*Device, error) {
	var (
		ary     [16]C.DaqDeviceDescriptor
		numdevs C.uint = 16
	)
	if err := ulErr(C.ulGetDaqDeviceInventory(C.DaqDeviceInterface(iface), &ary[0], &numdevs)); err != nil {
		return nil, err
	}
	if numdevs == 0 {
		return nil, ErrNoDevice
	}
	idx := 0
	if code != "" {
		idx = -1
		for i := 0; i < int(numdevs); i++ {
			if C.GoString(&ary[i].uniqueId[0]) == code {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: no board with id %q", ErrNoDevice, code)
		}
	}
	d := &Device{handle: C.ulCreateDaqDevice(ary[idx])}
	if d.handle == 0 {
		return nil, fmt.Errorf("mccdaq: connection to DAQ not opened properly")
	}
	if err := ulErr(C.ulConnectDaqDevice(d.handle)); err != nil {
		C.ulReleaseDaqDevice(d.handle)
		return nil, err
	}
	return d, nil
}

// Connected reports whether the device is connected
func (d *Device) Connected() bool {
	var conn C.int
	if C.ulIsDaqDeviceConnected(d.handle, &conn) != C.ERR_NO_ERROR {
		return false
	}
	return conn != 0
}

// AnalogInput returns the input subsystem
func (d *Device) AnalogInput() (AnalogInput, error) {
	return devAI{d}, nil
}

// AnalogOutput returns the output subsystem
func (d *Device) AnalogOutput() (AnalogOutput, error) {
	return devAO{d}, nil
}

// Close releases the device and the scan buffers
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	C.ulAInScanStop(d.handle)
	C.ulAOutScanStop(d.handle)
	C.ulDisconnectDaqDevice(d.handle)
	C.ulReleaseDaqDevice(d.handle)
	d.in.free()
	d.out.free()
	return nil
}

func (d *Device) aiInfo(item C.AiInfoItem, idx int) (int64, error) {
	var v C.longlong
	err := ulErr(C.ulAIGetInfo(d.handle, item, C.uint(idx), &v))
	return int64(v), err
}

func (d *Device) aoInfo(item C.AoInfoItem, idx int) (int64, error) {
	var v C.longlong
	err := ulErr(C.ulAOGetInfo(d.handle, item, C.uint(idx), &v))
	return int64(v), err
}

func rangeCode(ranges []int, id int) C.Range {
	if id >= 0 && id < len(ranges) {
		return C.Range(ranges[id])
	}
	return C.BIP10VOLTS
}

type devAI struct{ d *Device }

func (a devAI) Info() (InputInfo, error) {
	d := a.d
	pacer, err := d.aiInfo(C.AI_INFO_HAS_PACER, 0)
	if err != nil {
		return InputInfo{}, err
	}
	info := InputInfo{HasPacer: pacer != 0, Channels: map[InputMode]int{}}
	for _, m := range []InputMode{SingleEnded, Differential} {
		n, err := d.aiInfo(C.AI_INFO_NUM_CHANS_BY_MODE, int(m))
		if err != nil {
			return info, err
		}
		info.Channels[m] = int(n)
	}
	n, err := d.aiInfo(C.AI_INFO_NUM_SE_RANGES, 0)
	if err != nil {
		return info, err
	}
	for i := 0; i < int(n); i++ {
		r, err := d.aiInfo(C.AI_INFO_SE_RANGE, i)
		if err != nil {
			return info, err
		}
		info.Ranges = append(info.Ranges, int(r))
	}
	d.mu.Lock()
	d.inRanges = info.Ranges
	d.mu.Unlock()
	return info, nil
}

func (a devAI) ScanInput(ch ChannelRange, mode InputMode, rng int, rate float64, samplesPerChannel int, opts ScanOption, flags ScanFlag) (float64, error) {
	d := a.d
	d.mu.Lock()
	defer d.mu.Unlock()
	d.in.resize(ch.Count() * samplesPerChannel)
	crate := C.double(rate)
	err := ulErr(C.ulAInScan(d.handle, C.int(ch.Low), C.int(ch.High), C.AiInputMode(mode),
		rangeCode(d.inRanges, rng), C.int(samplesPerChannel), &crate,
		C.ScanOption(opts), C.AInScanFlag(flags), d.in.ptr))
	return float64(crate), err
}

func (a devAI) Buffer() []float64 {
	a.d.mu.Lock()
	defer a.d.mu.Unlock()
	return a.d.in.slice()
}

func (a devAI) Status() (ScanStatus, TransferStatus, error) {
	var (
		st C.ScanStatus
		xf C.TransferStatus
	)
	err := ulErr(C.ulAInScanStatus(a.d.handle, &st, &xf))
	return ScanStatus(st), TransferStatus{
		CurrentScanCount:  uint64(xf.currentScanCount),
		CurrentTotalCount: uint64(xf.currentTotalCount),
		CurrentIndex:      int(xf.currentIndex),
	}, err
}

func (a devAI) Stop() error {
	return ulErr(C.ulAInScanStop(a.d.handle))
}

type devAO struct{ d *Device }

func (a devAO) Info() (OutputInfo, error) {
	d := a.d
	pacer, err := d.aoInfo(C.AO_INFO_HAS_PACER, 0)
	if err != nil {
		return OutputInfo{}, err
	}
	nch, err := d.aoInfo(C.AO_INFO_NUM_CHANS, 0)
	if err != nil {
		return OutputInfo{}, err
	}
	info := OutputInfo{HasPacer: pacer != 0, Channels: int(nch)}
	n, err := d.aoInfo(C.AO_INFO_NUM_RANGES, 0)
	if err != nil {
		return info, err
	}
	for i := 0; i < int(n); i++ {
		r, err := d.aoInfo(C.AO_INFO_RANGE, i)
		if err != nil {
			return info, err
		}
		info.Ranges = append(info.Ranges, int(r))
	}
	d.mu.Lock()
	d.outRanges = info.Ranges
	d.mu.Unlock()
	return info, nil
}

func (a devAO) ScanOutput(ch ChannelRange, rng int, rate float64, opts ScanOption, flags ScanFlag, buf []float64) (float64, error) {
	d := a.d
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out.resize(len(buf))
	copy(d.out.slice(), buf)
	crate := C.double(rate)
	err := ulErr(C.ulAOutScan(d.handle, C.int(ch.Low), C.int(ch.High),
		rangeCode(d.outRanges, rng), C.int(len(buf)/ch.Count()), &crate,
		C.ScanOption(opts), C.AOutScanFlag(flags), d.out.ptr))
	return float64(crate), err
}

func (a devAO) Buffer() []float64 {
	a.d.mu.Lock()
	defer a.d.mu.Unlock()
	return a.d.out.slice()
}

func (a devAO) Output(channel int, rng int, volts float64) error {
	// AOUT_FF_DEFAULT, "Scaled data is supplied and calibration factors are applied to output."
	return ulErr(C.ulAOut(a.d.handle, C.int(channel), rangeCode(a.d.outRanges, rng), C.AOUT_FF_DEFAULT, C.double(volts)))
}

func (a devAO) Status() (ScanStatus, TransferStatus, error) {
	var (
		st C.ScanStatus
		xf C.TransferStatus
	)
	err := ulErr(C.ulAOutScanStatus(a.d.handle, &st, &xf))
	return ScanStatus(st), TransferStatus{
		CurrentScanCount:  uint64(xf.currentScanCount),
		CurrentTotalCount: uint64(xf.currentTotalCount),
		CurrentIndex:      int(xf.currentIndex),
	}, err
}

func (a devAO) Stop() error {
	return ulErr(C.ulAOutScanStop(a.d.handle))
}
