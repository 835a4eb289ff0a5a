package camera

import (
	"fmt"
	"sort"
	"sync"
)

// ドライバー名
const (
	DriverV4L2        = "v4l2"
	DriverTestPattern = "testsrc"
	DriverGoCV        = "gocv"
)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

func init() {
	RegisterDriver(NewV4L2Driver(NewLinuxDiscovery()))
	RegisterDriver(NewTestPatternDriver())
}

// RegisterDriver はドライバーを登録する。同名のドライバーは置き換える
func RegisterDriver(driver Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[driver.Name()] = driver
}

// LookupDriver は名前からドライバーを取得する
func LookupDriver(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()

	driver, exists := drivers[name]
	if !exists {
		return nil, fmt.Errorf("サポートされていないドライバー: %s (利用可能: %v)", name, driverNamesLocked())
	}
	return driver, nil
}

// DriverNames は登録済みのドライバー名を返す
func DriverNames() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	return driverNamesLocked()
}

func driverNamesLocked() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
