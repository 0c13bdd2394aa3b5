package ledger

import (
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Коды результата скриптов. Ответ скрипта - массив строк: код, затем quantity и version.
// Числа не проходят через Lua number (double), поэтому значения до MaxInt64 передаются точно.
const (
	scriptOK           = 1
	scriptMiss         = -1
	scriptInsufficient = -2
	scriptBadVersion   = -3
	scriptBadQuantity  = -4
)

// readEntry общий пролог: досеивает запись из ARGV[seedAt], ARGV[seedAt+1] если quantity отсутствует,
// затем проверяет, что quantity и version - десятичные целые в диапазоне [0, MaxInt64] без ведущих нулей.
// Отсутствующая version читается как 0.
const readEntry = `
local key = KEYS[1]
local function int64str(s)
  if s ~= '0' and not string.match(s, '^[1-9]%d*$') then
    return nil
  end
  if #s > 19 or (#s == 19 and s > '9223372036854775807') then
    return nil
  end
  return s
end
local function less(a, b)
  if #a ~= #b then
    return #a < #b
  end
  return a < b
end
local q = redis.call('HGET', key, 'quantity')
if not q then
  local seedQ = ARGV[SEED_AT]
  if seedQ == nil or seedQ == '' then
    return {'-1'}
  end
  redis.call('HSET', key, 'quantity', seedQ, 'version', ARGV[SEED_AT + 1])
  q = seedQ
end
if not int64str(q) then
  return {'-4'}
end
local v = redis.call('HGET', key, 'version')
if not v then
  v = '0'
elseif not int64str(v) then
  return {'-3'}
end
`

// loadScript: ARGV[1], ARGV[2] - необязательные quantity и version из origin.
var loadScript = redis.NewScript(prologue(1) + `
return {'1', q, v}
`)

// decrementScript: ARGV[1] - amount (десятичная строка), ARGV[2], ARGV[3] - необязательные quantity и version из origin.
// Проверка, списание и увеличение версии выполняются одним скриптом; сравнение идет по строкам.
var decrementScript = redis.NewScript(prologue(2) + `
local amount = ARGV[1]
if less(q, amount) then
  return {'-2', q, v}
end
if amount ~= '0' then
  redis.call('HINCRBY', key, 'quantity', '-' .. amount)
end
redis.call('HINCRBY', key, 'version', 1)
return {'1', redis.call('HGET', key, 'quantity'), redis.call('HGET', key, 'version')}
`)

// restoreScript: ARGV[1] - amount. Seed не передается, поэтому отсутствующая запись не создается.
var restoreScript = redis.NewScript(prologue(2) + `
redis.call('HINCRBY', key, 'quantity', ARGV[1])
redis.call('HINCRBY', key, 'version', 1)
return {'1', redis.call('HGET', key, 'quantity'), redis.call('HGET', key, 'version')}
`)

func prologue(seedAt int) string {
	return strings.ReplaceAll(readEntry, "SEED_AT", strconv.Itoa(seedAt))
}

// scriptReply разобранный ответ скрипта
type scriptReply struct {
	status   int
	quantity int64
	version  int64
}

func parseReply(raw []string) (scriptReply, error) {
	if len(raw) == 0 {
		return scriptReply{}, strconv.ErrSyntax
	}
	status, err := strconv.Atoi(raw[0])
	if err != nil {
		return scriptReply{}, err
	}
	reply := scriptReply{status: status}
	if len(raw) >= 3 {
		if reply.quantity, err = strconv.ParseInt(raw[1], 10, 64); err != nil {
			return scriptReply{}, err
		}
		if reply.version, err = strconv.ParseInt(raw[2], 10, 64); err != nil {
			return scriptReply{}, err
		}
	} else if status == scriptOK || status == scriptInsufficient {
		return scriptReply{}, strconv.ErrSyntax
	}
	return reply, nil
}
