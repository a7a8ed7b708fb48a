package camera

import (
	"context"
	"fmt"
	"sync"
)

// Driver はドライバーファミリーごとのデバイス列挙とカメラ生成を担う
type Driver interface {
	// Family はファミリー識別子を返す
	Family() Family
	// Enumerate は接続されている物理デバイスを列挙する
	Enumerate(ctx context.Context) ([]DeviceDescriptor, error)
	// NewCamera は列挙結果からカメラを生成する（接続はしない）
	NewCamera(desc DeviceDescriptor, settings Settings) Camera
}

// ベンダーSDKのシムはビルドタグ付きのファイルから init で登録される
var (
	sdkMu     sync.RWMutex
	streamSDK StreamSDK
	stereoSDK StereoSDK
)

// RegisterStreamSDK はストリーム型センサーのSDKを登録する
func RegisterStreamSDK(sdk StreamSDK) {
	sdkMu.Lock()
	defer sdkMu.Unlock()
	streamSDK = sdk
}

// RegisterStereoSDK はステレオセンサーのSDKを登録する
func RegisterStereoSDK(sdk StereoSDK) {
	sdkMu.Lock()
	defer sdkMu.Unlock()
	stereoSDK = sdk
}

// DefaultDrivers は登録済みSDKを使うドライバー一覧を列挙順に返す
func DefaultDrivers(params StereoParams) []Driver {
	sdkMu.RLock()
	defer sdkMu.RUnlock()
	return []Driver{
		NewStreamDriver(streamSDK),
		NewStereoDriver(stereoSDK, params),
	}
}

// StreamDriver はストリーム型センサーのドライバー
type StreamDriver struct {
	sdk StreamSDK
}

// NewStreamDriver は新しいStreamDriverを作成する。sdk が nil なら何も列挙しない
func NewStreamDriver(sdk StreamSDK) *StreamDriver {
	return &StreamDriver{sdk: sdk}
}

// Family はファミリー識別子を返す
func (d *StreamDriver) Family() Family { return FamilyStream }

// Enumerate はSDKからデバイスを列挙する
func (d *StreamDriver) Enumerate(ctx context.Context) ([]DeviceDescriptor, error) {
	if d.sdk == nil {
		return nil, nil
	}
	devices, err := d.sdk.QueryDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("ストリーム型デバイスの列挙に失敗: %w", err)
	}
	return devices, nil
}

// NewCamera はStreamCameraを生成する
func (d *StreamDriver) NewCamera(desc DeviceDescriptor, settings Settings) Camera {
	return NewStreamCamera(d.sdk, desc, settings)
}

// StereoDriver はステレオセンサーのドライバー
type StereoDriver struct {
	sdk    StereoSDK
	params StereoParams
}

// NewStereoDriver は新しいStereoDriverを作成する。sdk が nil なら何も列挙しない
func NewStereoDriver(sdk StereoSDK, params StereoParams) *StereoDriver {
	return &StereoDriver{sdk: sdk, params: params}
}

// Family はファミリー識別子を返す
func (d *StereoDriver) Family() Family { return FamilyStereo }

// Enumerate はSDKからデバイスを列挙する
func (d *StereoDriver) Enumerate(ctx context.Context) ([]DeviceDescriptor, error) {
	if d.sdk == nil {
		return nil, nil
	}
	devices, err := d.sdk.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("ステレオデバイスの列挙に失敗: %w", err)
	}
	return devices, nil
}

// NewCamera はStereoCameraを生成する
func (d *StereoDriver) NewCamera(desc DeviceDescriptor, settings Settings) Camera {
	return NewStereoCamera(d.sdk, desc, d.params, settings)
}

// MockDriver はテスト用のモックDriver実装
// 列挙したデバイスごとに SyntheticCamera を生成する
type MockDriver struct {
	family Family

	mu      sync.Mutex
	devices []DeviceDescriptor
	cameras map[string]*SyntheticCamera
	err     error
}

// NewMockDriver は新しいMockDriverを作成する
func NewMockDriver(family Family, serials ...string) *MockDriver {
	m := &MockDriver{
		family:  family,
		cameras: make(map[string]*SyntheticCamera),
	}
	for _, s := range serials {
		m.devices = append(m.devices, DeviceDescriptor{Serial: s, Model: "Mock"})
	}
	return m
}

// Family はファミリー識別子を返す
func (m *MockDriver) Family() Family { return m.family }

// Enumerate はモックデバイス一覧を返す
func (m *MockDriver) Enumerate(_ context.Context) ([]DeviceDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]DeviceDescriptor, len(m.devices))
	copy(out, m.devices)
	return out, nil
}

// NewCamera はシリアルから決まるIDのSyntheticCameraを生成する
func (m *MockDriver) NewCamera(desc DeviceDescriptor, settings Settings) Camera {
	m.mu.Lock()
	defer m.mu.Unlock()
	cam := NewSyntheticCamera(fmt.Sprintf("Mock_%s", desc.Serial), settings)
	m.cameras[desc.Serial] = cam
	return cam
}

// Camera はテスト用に最後に生成したカメラを返す
func (m *MockDriver) Camera(serial string) *SyntheticCamera {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cameras[serial]
}

// AddDevice はテスト用にデバイスを追加する
func (m *MockDriver) AddDevice(serial string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.Serial == serial {
			return
		}
	}
	m.devices = append(m.devices, DeviceDescriptor{Serial: serial, Model: "Mock"})
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *MockDriver) RemoveDevice(serial string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.devices {
		if d.Serial == serial {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			return
		}
	}
}

// SetEnumerateError はテスト用に列挙エラーを設定する
func (m *MockDriver) SetEnumerateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
