// Package powershell drives Windows capture through PowerShell scripts.
// Both the WSL bridge (powershell.exe on the Windows host) and the native
// backend on Windows (local powershell, for window enumeration) use it.
// Scripts print JSON or base64 PNG on stdout.
package powershell

import (
	"encoding/base64"
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"github.com/bryanchriswhite/deskshot/internal/geometry"
)

// dpiPrelude makes the script DPI aware so every coordinate is in physical
// pixels, matching the screen bounds.
const dpiPrelude = `
$ErrorActionPreference = 'Stop'
Add-Type @"
using System;
using System.Runtime.InteropServices;
public static class DeskshotDpi {
    [DllImport("user32.dll")] public static extern bool SetProcessDPIAware();
}
"@
[DeskshotDpi]::SetProcessDPIAware() | Out-Null
`

const screensScript = dpiPrelude + `
Add-Type -AssemblyName System.Windows.Forms
$screens = @([System.Windows.Forms.Screen]::AllScreens | ForEach-Object {
    [PSCustomObject]@{
        DeviceName = $_.DeviceName
        Primary    = $_.Primary
        X          = $_.Bounds.X
        Y          = $_.Bounds.Y
        Width      = $_.Bounds.Width
        Height     = $_.Bounds.Height
    }
})
ConvertTo-Json -Compress -InputObject $screens
`

const windowsScript = dpiPrelude + `
Add-Type @"
using System;
using System.Collections.Generic;
using System.Runtime.InteropServices;
using System.Text;
public static class DeskshotWin {
    public delegate bool EnumProc(IntPtr hWnd, IntPtr lParam);
    [StructLayout(LayoutKind.Sequential)] public struct RECT { public int Left, Top, Right, Bottom; }
    [StructLayout(LayoutKind.Sequential)] public struct POINT { public int X, Y; }
    [DllImport("user32.dll")] public static extern bool EnumWindows(EnumProc cb, IntPtr lParam);
    [DllImport("user32.dll")] public static extern bool IsWindowVisible(IntPtr hWnd);
    [DllImport("user32.dll")] public static extern bool IsIconic(IntPtr hWnd);
    [DllImport("user32.dll", CharSet = CharSet.Unicode)] public static extern int GetWindowText(IntPtr hWnd, StringBuilder s, int n);
    [DllImport("user32.dll")] public static extern int GetWindowTextLength(IntPtr hWnd);
    [DllImport("user32.dll")] public static extern uint GetWindowThreadProcessId(IntPtr hWnd, out uint pid);
    [DllImport("user32.dll")] public static extern bool GetWindowRect(IntPtr hWnd, out RECT r);
    [DllImport("user32.dll")] public static extern bool GetClientRect(IntPtr hWnd, out RECT r);
    [DllImport("user32.dll")] public static extern bool ClientToScreen(IntPtr hWnd, ref POINT p);
    [DllImport("dwmapi.dll")] public static extern int DwmGetWindowAttribute(IntPtr hWnd, int attr, out RECT r, int size);
    public static List<IntPtr> List() {
        var result = new List<IntPtr>();
        EnumWindows((h, l) => { if (IsWindowVisible(h) && GetWindowTextLength(h) > 0) { result.Add(h); } return true; }, IntPtr.Zero);
        return result;
    }
}
"@
$windows = @([DeskshotWin]::List() | ForEach-Object {
    $h = $_
    $sb = New-Object System.Text.StringBuilder 512
    [DeskshotWin]::GetWindowText($h, $sb, $sb.Capacity) | Out-Null
    $procId = [uint32]0
    [DeskshotWin]::GetWindowThreadProcessId($h, [ref]$procId) | Out-Null
    $name = ''
    try { $name = (Get-Process -Id $procId -ErrorAction Stop).ProcessName } catch {}
    $frame = New-Object DeskshotWin+RECT
    # DWMWA_EXTENDED_FRAME_BOUNDS excludes the invisible resize border
    if ([DeskshotWin]::DwmGetWindowAttribute($h, 9, [ref]$frame, 16) -ne 0) {
        [DeskshotWin]::GetWindowRect($h, [ref]$frame) | Out-Null
    }
    $client = New-Object DeskshotWin+RECT
    [DeskshotWin]::GetClientRect($h, [ref]$client) | Out-Null
    $origin = New-Object DeskshotWin+POINT
    [DeskshotWin]::ClientToScreen($h, [ref]$origin) | Out-Null
    [PSCustomObject]@{
        Handle      = $h.ToInt64()
        Title       = $sb.ToString()
        Pid         = $procId
        ProcessName = $name
        Minimized   = [DeskshotWin]::IsIconic($h)
        X           = $origin.X
        Y           = $origin.Y
        Width       = $client.Right - $client.Left
        Height      = $client.Bottom - $client.Top
        FrameX      = $frame.Left
        FrameY      = $frame.Top
        FrameWidth  = $frame.Right - $frame.Left
        FrameHeight = $frame.Bottom - $frame.Top
    }
})
ConvertTo-Json -Compress -InputObject $windows
`

const captureTemplate = dpiPrelude + `
Add-Type -AssemblyName System.Drawing
$bmp = New-Object System.Drawing.Bitmap(%[3]d, %[4]d)
$g = [System.Drawing.Graphics]::FromImage($bmp)
$g.CopyFromScreen(%[1]d, %[2]d, 0, 0, $bmp.Size)
$ms = New-Object System.IO.MemoryStream
$bmp.Save($ms, [System.Drawing.Imaging.ImageFormat]::Png)
$g.Dispose()
$bmp.Dispose()
[Convert]::ToBase64String($ms.ToArray())
`

const virtualScreenScript = dpiPrelude + `
Add-Type -AssemblyName System.Windows.Forms
Add-Type -AssemblyName System.Drawing
$vs = [System.Windows.Forms.SystemInformation]::VirtualScreen
$bmp = New-Object System.Drawing.Bitmap($vs.Width, $vs.Height)
$g = [System.Drawing.Graphics]::FromImage($bmp)
$g.CopyFromScreen($vs.X, $vs.Y, 0, 0, $bmp.Size)
$ms = New-Object System.IO.MemoryStream
$bmp.Save($ms, [System.Drawing.Imaging.ImageFormat]::Png)
$g.Dispose()
$bmp.Dispose()
[Convert]::ToBase64String($ms.ToArray())
`

// ScreensScript lists every screen as JSON
func ScreensScript() string { return screensScript }

// WindowsScript lists visible, titled top-level windows as JSON
func WindowsScript() string { return windowsScript }

// VirtualScreenScript captures the whole virtual screen as base64 PNG
func VirtualScreenScript() string { return virtualScreenScript }

// CaptureRectScript captures r as base64 PNG
func CaptureRectScript(r geometry.Rect) string {
	return fmt.Sprintf(captureTemplate, r.X, r.Y, r.Width, r.Height)
}

// EncodeCommand encodes a script for -EncodedCommand (base64 of UTF-16LE),
// which sidesteps quoting across the WSL interop boundary
func EncodeCommand(script string) (string, error) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	utf16, err := enc.String(script)
	if err != nil {
		return "", fmt.Errorf("failed to encode script: %w", err)
	}
	return base64.StdEncoding.EncodeToString([]byte(utf16)), nil
}
